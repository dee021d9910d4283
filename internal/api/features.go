package api

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	repgo "github.com/replicate/replicate-go"

	"photoshopai/backend/internal/credit"
	"photoshopai/backend/internal/gemini"
	"photoshopai/backend/internal/imgutil"
	"photoshopai/backend/internal/middleware"
	"photoshopai/backend/internal/provider"
	"photoshopai/backend/internal/queue"
)

const maxUploadBytes = 32 << 20

// featureInput is the parsed multipart payload shared by every feature.
type featureInput struct {
	Image     []byte // normalized primary upload
	ImageMIME string
	Ref       []byte // optional second image (try-on garment, style reference)
	RefMIME   string
	Prompt    string
	IdemKey   string
}

func (in featureInput) imageDataURL() string {
	out, _ := provider.FromInline(in.ImageMIME, in.Image)
	return out.AsDataURL()
}

// parseFeatureInput reads the multipart form: "image" (required), optional
// "reference" file, "prompt" and "idempotencyKey" fields. Uploads are
// downscaled before they go anywhere near a provider.
func (s *Server) parseFeatureInput(r *http.Request, refAllowed bool) (featureInput, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return featureInput{}, err
	}
	var in featureInput
	f, _, err := r.FormFile("image")
	if err != nil {
		return featureInput{}, err
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return featureInput{}, err
	}
	in.Image, in.ImageMIME, err = imgutil.Normalize(raw, s.Cfg.MaxImageEdge)
	if err != nil {
		return featureInput{}, err
	}
	if refAllowed {
		if rf, _, err := r.FormFile("reference"); err == nil {
			defer rf.Close()
			if raw, err := io.ReadAll(io.LimitReader(rf, maxUploadBytes)); err == nil {
				if b, mime, err := imgutil.Normalize(raw, s.Cfg.MaxImageEdge); err == nil {
					in.Ref, in.RefMIME = b, mime
				}
			}
		}
	}
	in.Prompt = strings.TrimSpace(r.FormValue("prompt"))
	in.IdemKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if in.IdemKey == "" {
		in.IdemKey = strings.TrimSpace(r.FormValue("idempotencyKey"))
	}
	if in.IdemKey == "" {
		// Generated server-side so the refund path is still replay-protected.
		in.IdemKey = uuid.NewString()
	}
	return in, nil
}

// runFeature is the one charge flow every generation route goes through:
// debit before work, refund on failure, never retry a billed provider call.
func (s *Server) runFeature(w http.ResponseWriter, r *http.Request, feature, respField string, cost int, refAllowed bool,
	call func(ctx context.Context, in featureInput) (provider.Output, error)) {

	owner, ok := middleware.Owner(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization")
		return
	}
	ip := middleware.ClientIP(r.Context())

	in, err := s.parseFeatureInput(r, refAllowed)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image upload is required")
		return
	}

	s.ensureOwner(r, owner, ip)
	debit, err := credit.Debit(r.Context(), s.Ledger, owner, ip, cost, "spend:"+feature, in.IdemKey)
	if err != nil {
		if credit.IsInsufficient(err) {
			writeError(w, http.StatusPaymentRequired, "insufficient credits")
			return
		}
		log.Printf("api: %s debit %s: %v", feature, owner, err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	s.invalidateCredits(r, owner)

	var jobID uuid.UUID
	if s.DB != nil {
		jobID, err = s.DB.CreateGenerationJob(r.Context(), owner, feature,
			map[string]string{"prompt": in.Prompt, "idempotency_key": in.IdemKey}, cost)
		if err != nil {
			log.Printf("api: %s create job: %v", feature, err)
		}
	}

	out, err := call(r.Context(), in)
	if err != nil {
		s.refund(r, owner, ip, cost, feature, in.IdemKey)
		if jobID != uuid.Nil {
			if ferr := s.DB.FinishGenerationJob(r.Context(), jobID, "failed", nil, err.Error()); ferr != nil {
				log.Printf("api: %s finish job: %v", feature, ferr)
			}
		}
		log.Printf("api: %s provider call failed: %v", feature, err)
		writeError(w, http.StatusBadGateway, "generation failed, credits refunded")
		return
	}

	if jobID != uuid.Nil {
		// Inline outputs are returned to the client directly; the job row
		// records the kind, not megabytes of base64.
		jobOut := map[string]string{"kind": string(out.Kind)}
		if out.Kind == provider.KindURL {
			jobOut["url"] = out.URL
		}
		if ferr := s.DB.FinishGenerationJob(r.Context(), jobID, "succeeded", jobOut, ""); ferr != nil {
			log.Printf("api: %s finish job: %v", feature, ferr)
		}
	}
	s.enqueueMirror(jobID, out, feature)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		respField:          out.AsDataURL(),
		"remainingCredits": debit.Credits,
		"creditsUsed":      cost,
	})
}

// refund is best-effort: a failed refund after a failed generation is
// logged for manual settling, never surfaced as a second error.
func (s *Server) refund(r *http.Request, owner, ip string, amount int, feature, debitKey string) {
	if _, err := credit.Refund(r.Context(), s.Ledger, owner, ip, amount, feature, debitKey); err != nil {
		log.Printf("api: refund failed owner=%s feature=%s amount=%d: %v", owner, feature, amount, err)
		return
	}
	s.invalidateCredits(r, owner)
}

// enqueueMirror copies URL outputs into our bucket before the provider's
// delivery URL expires. Inline outputs are already in the response.
func (s *Server) enqueueMirror(jobID uuid.UUID, out provider.Output, feature string) {
	if s.Tasks == nil || s.Storage == nil || jobID == uuid.Nil || out.Kind != provider.KindURL {
		return
	}
	if strings.HasPrefix(out.URL, "data:") {
		return
	}
	task, err := queue.NewMirrorMediaTask(jobID, out.URL, feature)
	if err != nil {
		log.Printf("api: build mirror task: %v", err)
		return
	}
	if _, err := s.Tasks.Enqueue(task); err != nil {
		log.Printf("api: enqueue mirror: %v", err)
	}
}

func geminiImages(in featureInput) []gemini.InputImage {
	imgs := []gemini.InputImage{{MIME: in.ImageMIME, Data: in.Image}}
	if len(in.Ref) > 0 {
		imgs = append(imgs, gemini.InputImage{MIME: in.RefMIME, Data: in.Ref})
	}
	return imgs
}

// --- Gemini features ---

func (s *Server) handleEditImage(w http.ResponseWriter, r *http.Request) {
	if s.Gemini == nil {
		writeError(w, http.StatusServiceUnavailable, "feature not configured")
		return
	}
	s.runFeature(w, r, "edit-image", "editedImageUrl", s.Cfg.CostImage, true,
		func(ctx context.Context, in featureInput) (provider.Output, error) {
			prompt := in.Prompt
			if prompt == "" && len(in.Ref) > 0 {
				prompt = "Dress the person in the first image in the clothing from the second image. Keep the person's face, pose and background unchanged."
			}
			return s.Gemini.GenerateImage(ctx, s.Cfg.ModelEdit, prompt, geminiImages(in))
		})
}

func (s *Server) handleGhiblify(w http.ResponseWriter, r *http.Request) {
	if s.Gemini == nil {
		writeError(w, http.StatusServiceUnavailable, "feature not configured")
		return
	}
	s.runFeature(w, r, "ghiblify", "ghibliUrl", s.Cfg.CostImage, false,
		func(ctx context.Context, in featureInput) (provider.Output, error) {
			prompt := "Redraw this photo as a hand-painted anime film still: soft watercolor backgrounds, warm light, gentle pastel palette. Keep the composition and subjects recognizable."
			if in.Prompt != "" {
				prompt += " " + in.Prompt
			}
			return s.Gemini.GenerateImage(ctx, s.Cfg.ModelGhibli, prompt, geminiImages(in))
		})
}

func (s *Server) handleRoomCanvas(w http.ResponseWriter, r *http.Request) {
	if s.Gemini == nil {
		writeError(w, http.StatusServiceUnavailable, "feature not configured")
		return
	}
	s.runFeature(w, r, "room-canvas", "roomUrl", s.Cfg.CostImage, false,
		func(ctx context.Context, in featureInput) (provider.Output, error) {
			prompt := "Declutter and tidy this room photo: remove loose objects, mess and clutter while keeping furniture, walls, flooring and lighting exactly as they are."
			if in.Prompt != "" {
				prompt += " " + in.Prompt
			}
			return s.Gemini.GenerateImage(ctx, s.Cfg.ModelRoom, prompt, geminiImages(in))
		})
}

func (s *Server) handleThumbnailStudio(w http.ResponseWriter, r *http.Request) {
	if s.Gemini == nil {
		writeError(w, http.StatusServiceUnavailable, "feature not configured")
		return
	}
	s.runFeature(w, r, "thumbnail-studio", "thumbnailUrl", s.Cfg.CostImage, true,
		func(ctx context.Context, in featureInput) (provider.Output, error) {
			prompt := "Turn this into a bold, high-contrast video thumbnail with the subject cut out prominently in the foreground."
			if in.Prompt != "" {
				prompt = in.Prompt
			}
			return s.Gemini.GenerateImage(ctx, s.Cfg.ModelThumbnail, prompt, geminiImages(in))
		})
}

// --- Replicate features ---

func (s *Server) handleHeadshot(w http.ResponseWriter, r *http.Request) {
	if s.Repl == nil {
		writeError(w, http.StatusServiceUnavailable, "feature not configured")
		return
	}
	s.runFeature(w, r, "headshotted", "headshotUrl", s.Cfg.CostImage, false,
		func(ctx context.Context, in featureInput) (provider.Output, error) {
			input := repgo.PredictionInput{"input_image": in.imageDataURL()}
			if in.Prompt != "" {
				input["prompt"] = in.Prompt
			}
			return s.Repl.Run(ctx, s.Cfg.ModelHeadshot, input)
		})
}

func (s *Server) handleTransparent(w http.ResponseWriter, r *http.Request) {
	if s.Repl == nil {
		writeError(w, http.StatusServiceUnavailable, "feature not configured")
		return
	}
	s.runFeature(w, r, "transparent", "transparentUrl", s.Cfg.CostImage, false,
		func(ctx context.Context, in featureInput) (provider.Output, error) {
			return s.Repl.Run(ctx, s.Cfg.ModelRemoveBg, repgo.PredictionInput{"image": in.imageDataURL()})
		})
}

func (s *Server) handleUpscale(w http.ResponseWriter, r *http.Request) {
	if s.Repl == nil {
		writeError(w, http.StatusServiceUnavailable, "feature not configured")
		return
	}
	s.runFeature(w, r, "upscale", "upscaledUrl", s.Cfg.CostImage, false,
		func(ctx context.Context, in featureInput) (provider.Output, error) {
			return s.Repl.Run(ctx, s.Cfg.ModelUpscale, repgo.PredictionInput{
				"image": in.imageDataURL(),
				"scale": 2,
			})
		})
}

func (s *Server) handleRestoreImage(w http.ResponseWriter, r *http.Request) {
	if s.Repl == nil {
		writeError(w, http.StatusServiceUnavailable, "feature not configured")
		return
	}
	s.runFeature(w, r, "restore-image", "restoredUrl", s.Cfg.CostImage, false,
		func(ctx context.Context, in featureInput) (provider.Output, error) {
			return s.Repl.Run(ctx, s.Cfg.ModelRestore, repgo.PredictionInput{"input_image": in.imageDataURL()})
		})
}

func (s *Server) handlePic2Vid(w http.ResponseWriter, r *http.Request) {
	if s.Repl == nil {
		writeError(w, http.StatusServiceUnavailable, "feature not configured")
		return
	}
	s.runFeature(w, r, "pic2vid", "videoUrl", s.Cfg.CostVideo, false,
		func(ctx context.Context, in featureInput) (provider.Output, error) {
			input := repgo.PredictionInput{"start_image": in.imageDataURL()}
			if in.Prompt != "" {
				input["prompt"] = in.Prompt
			}
			return s.Repl.Run(ctx, s.Cfg.ModelVideo, input)
		})
}
