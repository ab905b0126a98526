package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"agentchat/internal/history"
)

const (
	toolGeneratePrompts = "generate_prompts"
	toolGenerateImages  = "generate_images"
)

const promptDesignerInstruction = `You write prompts for a text-to-image model.
Expand the user's idea into one detailed prompt describing subject, setting, composition,
lighting, colour palette and style. Reply with the prompt text only, in English.`

type promptArgs struct {
	Idea    string `json:"idea"`
	NImages int    `json:"n_images"`
}

type imageRequest struct {
	Prompt    string `json:"prompt"`
	ImageName string `json:"image_name"`
}

type imageArgs struct {
	Requests []imageRequest `json:"requests"`
}

type promptResult struct {
	Prompt    string `json:"prompt,omitempty"`
	ImageName string `json:"image_name"`
	Error     string `json:"error,omitempty"`
}

type imageResult struct {
	ImageName string `json:"image_name"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

const maxImagesPerCall = 8

func toolDeclarations() []*genai.FunctionDeclaration {
	request := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"prompt":     {Type: genai.TypeString, Description: "Detailed image generation prompt."},
			"image_name": {Type: genai.TypeString, Description: "Name shown to the user for the image."},
		},
		Required: []string{"prompt", "image_name"},
	}
	return []*genai.FunctionDeclaration{
		{
			Name:        toolGeneratePrompts,
			Description: "Expand an idea into n_images detailed image generation prompts.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"idea":     {Type: genai.TypeString, Description: "What the user wants to see."},
					"n_images": {Type: genai.TypeInteger, Description: "Number of images, 1 to 8."},
				},
				Required: []string{"idea", "n_images"},
			},
		},
		{
			Name:        toolGenerateImages,
			Description: "Render each prompt into an image and return its URL.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"requests": {Type: genai.TypeArray, Items: request},
				},
				Required: []string{"requests"},
			},
		},
	}
}

// callTool executes one tool call. Bad arguments and unknown tools come back as a
// retry prompt so the model can correct itself.
func (r *Runtime) callTool(ctx context.Context, chatSessionID string, call history.Part) history.Part {
	args, err := call.ArgsMap()
	if err != nil {
		return history.RetryPrompt(call.ToolName, call.ToolCallID, "arguments are not a JSON object", r.now())
	}

	switch call.ToolName {
	case toolGeneratePrompts:
		var in promptArgs
		if err := remarshal(args, &in); err != nil || strings.TrimSpace(in.Idea) == "" {
			return history.RetryPrompt(call.ToolName, call.ToolCallID, "idea must be a non-empty string", r.now())
		}
		if in.NImages < 1 {
			in.NImages = 1
		}
		if in.NImages > maxImagesPerCall {
			in.NImages = maxImagesPerCall
		}
		return history.ToolReturn(call.ToolName, call.ToolCallID, r.generatePrompts(ctx, in), r.now())

	case toolGenerateImages:
		var in imageArgs
		if err := remarshal(args, &in); err != nil || len(in.Requests) == 0 {
			return history.RetryPrompt(call.ToolName, call.ToolCallID, "requests must be a non-empty list of {prompt, image_name}", r.now())
		}
		if len(in.Requests) > maxImagesPerCall {
			in.Requests = in.Requests[:maxImagesPerCall]
		}
		return history.ToolReturn(call.ToolName, call.ToolCallID, r.generateImages(ctx, chatSessionID, in.Requests), r.now())
	}

	r.logger.Warn().Str("tool", call.ToolName).Msg("model called unknown tool")
	return history.RetryPrompt(call.ToolName, call.ToolCallID, fmt.Sprintf("unknown tool %q", call.ToolName), r.now())
}

// generatePrompts asks the prompting model for n variants concurrently. A failed
// variant is reported in its own slot.
func (r *Runtime) generatePrompts(ctx context.Context, in promptArgs) []promptResult {
	results := make([]promptResult, in.NImages)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.FanoutLimit)

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(promptDesignerInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(float32(r.cfg.PromptingTemp)),
	}
	for i := range results {
		results[i].ImageName = fmt.Sprintf("%s_%d", in.Idea, i+1)
		g.Go(func() error {
			contents := []*genai.Content{genai.NewContentFromText(in.Idea, genai.RoleUser)}
			resp, err := r.models.GenerateContent(gctx, r.cfg.PromptingModel, contents, config)
			if err != nil {
				r.logger.Warn().Err(err).Int("variant", i+1).Msg("prompt generation failed")
				results[i].Error = "prompt generation failed"
				return nil
			}
			var text string
			if resp != nil {
				text = strings.TrimSpace(resp.Text())
			}
			if text == "" {
				results[i].Error = "empty prompt"
				return nil
			}
			results[i].Prompt = text
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runtime) generateImages(ctx context.Context, chatSessionID string, reqs []imageRequest) []imageResult {
	results := make([]imageResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.FanoutLimit)

	for i, req := range reqs {
		results[i].ImageName = req.ImageName
		g.Go(func() error {
			url, err := r.renderImage(gctx, chatSessionID, req)
			if err != nil {
				r.logger.Warn().Err(err).Str("image_name", req.ImageName).Msg("image generation failed")
				results[i].Error = "image generation failed"
				return nil
			}
			results[i].URL = url
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runtime) renderImage(ctx context.Context, chatSessionID string, req imageRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("empty prompt")
	}
	resp, err := r.models.GenerateImages(ctx, r.cfg.ImageModel, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: int32(r.cfg.ImagesPerPrompt),
	})
	if err != nil {
		return "", fmt.Errorf("generate images: %w", err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return "", fmt.Errorf("no image returned")
	}
	img := resp.GeneratedImages[0].Image
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return r.sink.SaveImage(ctx, chatSessionID, req.ImageName, mime, img.ImageBytes)
}

func remarshal(in map[string]any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
