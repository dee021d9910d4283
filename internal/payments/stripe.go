// Package payments creates Stripe Checkout sessions for one-time credit
// packs and verifies the webhook that grants the purchased credits.
package payments

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Pack is a purchasable credit bundle.
type Pack struct {
	Name    string
	PriceID string
	Credits int
}

type Service struct {
	packs         map[string]Pack
	webhookSecret string
	successURL    string
	cancelURL     string
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Packs         []Pack
}

func New(cfg Config) *Service {
	if cfg.SecretKey == "" {
		return nil // checkout routes report 503 when unset
	}
	stripe.Key = cfg.SecretKey
	packs := make(map[string]Pack, len(cfg.Packs))
	for _, p := range cfg.Packs {
		if p.PriceID != "" {
			packs[p.Name] = p
		}
	}
	return &Service{
		packs:         packs,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

// Packs lists the configured credit packs.
func (s *Service) Packs() map[string]Pack {
	return s.packs
}

// CreateCheckoutSession opens a one-time payment session for the named pack.
// The owner key and credit amount travel in metadata so the webhook can
// credit the right ledger account.
func (s *Service) CreateCheckoutSession(ownerKey, pack string) (id, url string, err error) {
	p, ok := s.packs[pack]
	if !ok {
		return "", "", fmt.Errorf("unknown credit pack %q", pack)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.successURL + "&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("owner_key", ownerKey)
	params.AddMetadata("credits", fmt.Sprintf("%d", p.Credits))
	params.AddMetadata("pack", p.Name)
	sess, err := session.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

// VerifyWebhook validates a webhook payload signature and parses the event.
func (s *Service) VerifyWebhook(payload []byte, signature string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("webhook secret not configured")
	}
	return webhook.ConstructEvent(payload, signature, s.webhookSecret)
}
