package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// RecallAssetToolName is the registered name of the asset recall tool.
const RecallAssetToolName = "recall_asset"

// recallArgs are the recall tool's arguments.
type recallArgs struct {
	Kind string `json:"kind" jsonschema:"required,enum=image,enum=video,enum=audio,description=Asset kind to recall"`
}

// recallPayload mirrors the conventional structured-result shape so the
// recalled URL is surfaced on the terminal result.
type recallPayload struct {
	ImageURL string `json:"image_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// RecallAssetTool returns the most recently generated asset URL of a kind
// from the chat's working memory, so a user can ask for "that image again"
// without regenerating it.
type RecallAssetTool struct{}

// NewRecallAssetTool creates the recall tool.
func NewRecallAssetTool() *RecallAssetTool {
	return &RecallAssetTool{}
}

func (t *RecallAssetTool) Name() string { return RecallAssetToolName }

func (t *RecallAssetTool) Description() string {
	return "Return the most recently generated image, video, or audio from this conversation without regenerating it."
}

func (t *RecallAssetTool) Schema() json.RawMessage {
	return reflectSchema(&recallArgs{})
}

func (t *RecallAssetTool) Execute(ctx context.Context, args json.RawMessage, state *models.ContextState) (*models.ToolResult, error) {
	var parsed recallArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return &models.ToolResult{
			Content: "invalid recall arguments: " + err.Error(),
			IsError: true,
		}, nil
	}

	kind := models.AssetKind(parsed.Kind)
	url := state.GeneratedAssets[kind]
	if url == "" {
		return &models.ToolResult{
			Content: fmt.Sprintf("no stored %s in this conversation", parsed.Kind),
			IsError: true,
		}, nil
	}

	payload := recallPayload{}
	switch kind {
	case models.AssetImage:
		payload.ImageURL = url
	case models.AssetVideo:
		payload.VideoURL = url
	case models.AssetAudio:
		payload.AudioURL = url
	default:
		return &models.ToolResult{
			Content: "unknown asset kind: " + parsed.Kind,
			IsError: true,
		}, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode recall payload: %w", err)
	}

	return &models.ToolResult{
		Content: fmt.Sprintf("recalled %s: %s", parsed.Kind, url),
		Payload: raw,
	}, nil
}
