package tags

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"soundnerd/internal/logging"
)

// Reviewer asks a Gemini model to pick instrument tags when the
// deterministic pipeline has nothing. Its output goes through the same
// vocabulary and single-instrument enforcement as every other source.
type Reviewer struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewReviewer creates an AI tag reviewer.
func NewReviewer(apiKey, model string, timeout time.Duration) (*Reviewer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("reviewer API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reviewer client: %w", err)
	}

	return &Reviewer{client: client, model: model, timeout: timeout}, nil
}

// Review asks the model for tag suggestions. Any failure returns nil; AI
// review is always best effort.
func (r *Reviewer) Review(ctx context.Context, in Input, maxTags int) []ReviewedTag {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt := buildReviewPrompt(in, maxTags)
	result, err := r.client.Models.GenerateContent(ctx, r.model, genai.Text(prompt), nil)
	if err != nil {
		logging.Tags("AI review failed for %s: %v", in.SampleName, err)
		return nil
	}

	names := parseReviewResponse(result.Text())
	if len(names) == 0 {
		return nil
	}

	// The reviewer's output gets no special trust: vocabulary membership
	// and the single-instrument rule apply as usual.
	var survivors []Candidate
	for _, raw := range names {
		if name, ok := canonical(raw); ok {
			survivors = append(survivors, Candidate{Name: name, Confidence: unknownConfidence, Origin: OriginModel})
		}
	}
	return finalize(survivors, maxTags)
}

func buildReviewPrompt(in Input, maxTags int) string {
	var b strings.Builder
	b.WriteString("You classify audio sample instruments. Pick at most ")
	fmt.Fprintf(&b, "%d", maxTags)
	b.WriteString(" tags from this vocabulary:\n")
	b.WriteString(strings.Join(priorityOrder, ", "))
	b.WriteString("\n\nSample name: ")
	b.WriteString(in.SampleName)
	if in.FolderPath != "" {
		b.WriteString("\nFolder: ")
		b.WriteString(in.FolderPath)
	}
	if len(in.Model) > 0 {
		b.WriteString("\nModel suggestions: ")
		for i, c := range in.Model {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%.2f)", c.Name, c.Confidence)
		}
	}
	b.WriteString("\n\nRespond with a JSON array of tag name strings only, e.g. [\"kick\"]. Respond with [] if none fit.")
	return b.String()
}

// parseReviewResponse extracts a JSON string array from the model's reply,
// tolerating surrounding prose and markdown fences.
func parseReviewResponse(text string) []string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &names); err != nil {
		return nil
	}
	return names
}
