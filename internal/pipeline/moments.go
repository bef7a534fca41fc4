package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/inference"
	"github.com/phrazzld/moments-api/internal/platform/logger"
)

// Step keys of the moments_optimize pipeline.
const (
	StepImageProcessing  = "image_processing"
	StepImageModelCall   = "image_model_call"
	StepImageResultSaved = "image_result_saved"
	StepPromptBuilding   = "prompt_building"
	StepLLMCall          = "llm_call"
	StepFinalResult      = "final_result"
)

// CreditUsageKind is logged with every credit consumed by a completed task.
const CreditUsageKind = "image"

// MomentsSteps is the step list of the moments_optimize pipeline.
var MomentsSteps = []domain.StepDefinition{
	{Key: StepImageProcessing, Label: "Image processing"},
	{Key: StepImageModelCall, Label: "Image model call"},
	{Key: StepImageResultSaved, Label: "Image result saved"},
	{Key: StepPromptBuilding, Label: "Prompt building"},
	{Key: StepLLMCall, Label: "LLM call"},
	{Key: StepFinalResult, Label: "Final result"},
}

// DefaultPipelines returns the pipelines served by this service.
func DefaultPipelines() Pipelines {
	return Pipelines{domain.DefaultTaskType: MomentsSteps}
}

// CreditLedger debits a user for a completed task.
type CreditLedger interface {
	ConsumeCredit(ctx context.Context, userID uuid.UUID, kind string, duration time.Duration) (int, error)
}

// HistoryRecorder appends analysis history.
type HistoryRecorder interface {
	RecordHistory(ctx context.Context, entry *domain.HistoryEntry) error
}

// ThumbnailStore persists a reduced copy of the task image and returns its public path.
type ThumbnailStore interface {
	SaveThumbnail(ctx context.Context, userID uuid.UUID, image domain.Image) (string, error)
}

// Dependencies are the collaborators of the moments_optimize handlers.
// Credits, History and Thumbnails are optional.
type Dependencies struct {
	Vision     inference.VisionModel
	Text       inference.TextModel
	Credits    CreditLedger
	History    HistoryRecorder
	Thumbnails ThumbnailStore
	Logger     *slog.Logger
}

type moments struct {
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time
}

// NewMomentsHandlers returns the handlers of the moments_optimize pipeline
// keyed by step.
func NewMomentsHandlers(deps Dependencies) (map[string]Handler, error) {
	if deps.Vision == nil {
		return nil, errors.New("vision model cannot be nil")
	}
	if deps.Text == nil {
		return nil, errors.New("text model cannot be nil")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &moments{
		deps:   deps,
		logger: log.With(slog.String("component", "moments_pipeline")),
		now:    time.Now,
	}

	return map[string]Handler{
		StepImageProcessing:  HandlerFunc(m.processImage),
		StepImageModelCall:   HandlerFunc(m.describeImage),
		StepImageResultSaved: HandlerFunc(m.saveImageResult),
		StepPromptBuilding:   HandlerFunc(m.buildPrompt),
		StepLLMCall:          HandlerFunc(m.callTextModel),
		StepFinalResult:      HandlerFunc(m.finalize),
	}, nil
}

func (m *moments) processImage(_ context.Context, _ *domain.Task, state State) (Outcome, error) {
	img, err := domain.DecodeImage(state.Payload.ImageBase64)
	if err != nil {
		return Outcome{}, err
	}

	state.Image = &img
	state.ImageAccepted = true
	return Outcome{
		State: state,
		Extra: map[string]any{"mimeType": img.MIMEType, "bytes": len(img.Data)},
	}, nil
}

func (m *moments) describeImage(ctx context.Context, _ *domain.Task, state State) (Outcome, error) {
	if state.Image == nil {
		return Outcome{}, domain.ErrImageRequired
	}

	summary, usage, err := m.deps.Vision.DescribeImage(ctx, *state.Image)
	if err != nil {
		return Outcome{}, err
	}

	state.VisionSummary = summary
	state.VisionUsage = &usage
	return Outcome{State: state, Extra: map[string]any{"usage": usage}}, nil
}

func (m *moments) saveImageResult(_ context.Context, _ *domain.Task, state State) (Outcome, error) {
	state.SavedImageResult = &SavedImageResult{Summary: state.VisionSummary}
	return Outcome{State: state}, nil
}

func (m *moments) buildPrompt(_ context.Context, _ *domain.Task, state State) (Outcome, error) {
	prompt, err := BuildPrompt(state.Payload.UserText, state.VisionSummary)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to build prompt: %w", err)
	}

	state.Prompt = prompt
	return Outcome{State: state, Extra: map[string]any{"promptLength": len(prompt)}}, nil
}

func (m *moments) callTextModel(ctx context.Context, _ *domain.Task, state State) (Outcome, error) {
	reply, usage, err := m.deps.Text.Complete(ctx, state.Prompt)
	if err != nil {
		return Outcome{}, err
	}

	state.TextResult = reply
	state.TextUsage = &usage
	return Outcome{
		State: state,
		Extra: map[string]any{"usage": usage, "model": m.deps.Text.ModelName()},
	}, nil
}

// finalize saves the thumbnail, charges the user and records history.
// Failures of those side effects are logged and never fail the step.
func (m *moments) finalize(ctx context.Context, task *domain.Task, state State) (Outcome, error) {
	log := logger.FromContextOrDefault(ctx, m.logger).With(slog.String("task_id", task.ID.String()))

	userID, err := uuid.Parse(state.Payload.UserID)
	if err != nil {
		userID = uuid.Nil
	}

	thumbPath := ""
	if state.Image != nil && m.deps.Thumbnails != nil {
		thumbPath, err = m.deps.Thumbnails.SaveThumbnail(ctx, userID, *state.Image)
		if err != nil {
			log.Error("failed to save thumbnail", slog.String("error", err.Error()))
			thumbPath = ""
		}
	}

	if userID != uuid.Nil {
		m.chargeAndRecord(ctx, log, task, state, userID, thumbPath)
	}

	state.FinalResult = &FinalResult{
		OptimizedText: state.TextResult,
		VisionSummary: state.VisionSummary,
		ThumbPath:     thumbPath,
	}
	return Outcome{State: state, Extra: map[string]any{"thumbPath": thumbPath}}, nil
}

func (m *moments) chargeAndRecord(
	ctx context.Context,
	log *slog.Logger,
	task *domain.Task,
	state State,
	userID uuid.UUID,
	thumbPath string,
) {
	duration := m.now().Sub(task.CreatedAt)
	if duration < 0 {
		duration = 0
	}

	if m.deps.Credits != nil {
		remaining, err := m.deps.Credits.ConsumeCredit(ctx, userID, CreditUsageKind, duration)
		if err != nil {
			log.Warn("failed to consume credit, skipping history",
				slog.String("user_id", userID.String()),
				slog.String("error", err.Error()))
			return
		}
		log.Debug("credit consumed", slog.Int("remaining", remaining))
	}

	if m.deps.History == nil {
		return
	}

	entry, err := domain.NewHistoryEntry(userID, state.Payload.UserText, state.TextResult)
	if err != nil {
		log.Warn("failed to build history entry", slog.String("error", err.Error()))
		return
	}
	entry.ImagePath = thumbPath
	entry.DurationMs = duration.Milliseconds()
	entry.ModelName = m.deps.Text.ModelName()
	if state.TextUsage != nil {
		entry.InputTokens = state.TextUsage.InputTokens
		entry.OutputTokens = state.TextUsage.OutputTokens
		entry.TotalTokens = state.TextUsage.TotalTokens
	}

	if err := m.deps.History.RecordHistory(ctx, entry); err != nil {
		log.Warn("failed to record history",
			slog.String("user_id", userID.String()),
			slog.String("error", err.Error()))
	}
}
