package pipeline

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/agent-thor/meme-generator/internal/detect"
	pipeerrors "github.com/agent-thor/meme-generator/internal/errors"
	"github.com/agent-thor/meme-generator/internal/imaging"
	"github.com/agent-thor/meme-generator/internal/index"
	"github.com/agent-thor/meme-generator/internal/render"
	"github.com/agent-thor/meme-generator/internal/resolve"
)

type fakeMatcher struct {
	result *index.MatchResult
	err    error
}

func (f *fakeMatcher) Match(ctx context.Context, imageData []byte) (*index.MatchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDetector struct {
	blocks []detect.Block
	err    error
}

func (f *fakeDetector) DetectBlocks(ctx context.Context, imageData []byte, w, h int) ([]detect.Block, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.blocks, nil
}

type fakeRemover struct {
	calls int
	err   error
}

func (f *fakeRemover) Remove(img image.Image, blocks []detect.Block) (image.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return img, nil
}

type fakeHinter struct {
	boxes []imaging.Box
	err   error
}

func (f *fakeHinter) SuggestLayout(ctx context.Context, imageData []byte, width, height int, parts []string) ([]imaging.Box, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.boxes, nil
}

type failingRenderer struct{}

func (failingRenderer) Render(base image.Image, resolution *resolve.Resolution, parts []string, style render.Style) (image.Image, error) {
	return nil, errors.New("no usable font")
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := imaging.Encode(image.NewRGBA(image.Rect(0, 0, w, h)), "png")
	if err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return data
}

type pipelineFixture struct {
	matcher  *fakeMatcher
	detector *fakeDetector
	remover  *fakeRemover
	hinter   *fakeHinter
	pipeline *Pipeline
}

func newFixture(t *testing.T, matcher *fakeMatcher, detector *fakeDetector) *pipelineFixture {
	t.Helper()

	renderer, err := render.NewRenderer("")
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}
	hinter := &fakeHinter{boxes: []imaging.Box{
		{X: 20, Y: 20, Width: 300, Height: 30},
		{X: 20, Y: 300, Width: 300, Height: 30},
	}}
	remover := &fakeRemover{}

	p, err := NewPipeline(matcher, detector, remover,
		resolve.NewResolver(hinter, renderer), renderer, Config{MinTextBlocks: 1})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	p.SetTemplateReader(func(path string) ([]byte, error) {
		return pngBytes(t, 400, 400), nil
	})

	return &pipelineFixture{matcher: matcher, detector: detector, remover: remover, hinter: hinter, pipeline: p}
}

func matchedResult(similarity float64) *index.MatchResult {
	return &index.MatchResult{
		Matched:    similarity >= 80,
		TemplateID: "tpl-1",
		Name:       "classic",
		ImagePath:  "/templates/tpl-1.png",
		Similarity: similarity,
	}
}

func oneBlock() []detect.Block {
	return []detect.Block{
		{Text: "OLD CAPTION", Box: imaging.Box{X: 40, Y: 20, Width: 200, Height: 30}},
	}
}

func TestGenerateMemeTemplateWithText(t *testing.T) {
	f := newFixture(t, &fakeMatcher{result: matchedResult(92)}, &fakeDetector{blocks: oneBlock()})

	result, err := f.pipeline.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-a",
		ImageBuffer: pngBytes(t, 400, 400),
		Caption:     "NEW TOP",
	})
	if err != nil {
		t.Fatalf("GenerateMeme failed: %v", err)
	}

	if !result.FromTemplate {
		t.Error("high similarity must set FromTemplate")
	}
	if result.Strategy != string(resolve.StrategyTextRegions) {
		t.Errorf("Strategy = %s, want %s", result.Strategy, resolve.StrategyTextRegions)
	}
	if result.InpaintingApplied || f.remover.calls != 0 {
		t.Error("inpainting must not run on the template branch")
	}
	if result.Similarity != 92 {
		t.Errorf("Similarity = %f, want 92", result.Similarity)
	}
	if result.BlocksDetected != 1 {
		t.Errorf("BlocksDetected = %d, want 1", result.BlocksDetected)
	}
}

func TestGenerateMemeTemplateWithoutText(t *testing.T) {
	f := newFixture(t, &fakeMatcher{result: matchedResult(92)}, &fakeDetector{})

	result, err := f.pipeline.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-b",
		ImageBuffer: pngBytes(t, 400, 400),
		Caption:     "TOP|BOTTOM",
	})
	if err != nil {
		t.Fatalf("GenerateMeme failed: %v", err)
	}

	if !result.FromTemplate {
		t.Error("FromTemplate should be true")
	}
	if result.Strategy != string(resolve.StrategyVisionHint) {
		t.Errorf("Strategy = %s, want %s", result.Strategy, resolve.StrategyVisionHint)
	}
	if len(result.Degradations) != 0 {
		t.Errorf("unexpected degradations: %v", result.Degradations)
	}
}

func TestGenerateMemeNoTemplateInpaints(t *testing.T) {
	f := newFixture(t, &fakeMatcher{result: matchedResult(60)}, &fakeDetector{blocks: oneBlock()})

	result, err := f.pipeline.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-c",
		ImageBuffer: pngBytes(t, 400, 400),
		Caption:     "TOP|BOTTOM",
	})
	if err != nil {
		t.Fatalf("GenerateMeme failed: %v", err)
	}

	if result.FromTemplate {
		t.Error("similarity 60 must not match")
	}
	if result.Similarity != 60 {
		t.Errorf("best similarity must still be reported, got %f", result.Similarity)
	}
	if result.Strategy != string(resolve.StrategyWhiteBox) {
		t.Errorf("Strategy = %s, want %s", result.Strategy, resolve.StrategyWhiteBox)
	}
	if !result.InpaintingApplied || f.remover.calls != 1 {
		t.Error("detected text on the no-template branch must be inpainted")
	}
}

func TestGenerateMemeNoTemplateNoTextSkipsInpainting(t *testing.T) {
	f := newFixture(t, &fakeMatcher{result: matchedResult(60)}, &fakeDetector{})

	result, err := f.pipeline.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-c2",
		ImageBuffer: pngBytes(t, 400, 400),
		Caption:     "TOP",
	})
	if err != nil {
		t.Fatalf("GenerateMeme failed: %v", err)
	}

	if result.InpaintingApplied || f.remover.calls != 0 {
		t.Error("no detected text means no inpainting")
	}
}

func TestGenerateMemePreservesAspectRatio(t *testing.T) {
	f := newFixture(t, &fakeMatcher{result: matchedResult(10)}, &fakeDetector{})

	result, err := f.pipeline.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-d",
		ImageBuffer: pngBytes(t, 2000, 1000),
		Caption:     "WIDE",
	})
	if err != nil {
		t.Fatalf("GenerateMeme failed: %v", err)
	}

	out, _, err := imaging.Decode(result.OutputImage)
	if err != nil {
		t.Fatalf("output not decodable: %v", err)
	}
	if out.Bounds().Dx() != 2000 || out.Bounds().Dy() != 1000 {
		t.Errorf("output = %dx%d, want 2000x1000", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestGenerateMemeMatcherFailureDegrades(t *testing.T) {
	f := newFixture(t, &fakeMatcher{err: errors.New("embed service down")}, &fakeDetector{})

	result, err := f.pipeline.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-m",
		ImageBuffer: pngBytes(t, 400, 400),
		Caption:     "TOP",
	})
	if err != nil {
		t.Fatalf("matcher failure must not abort the request: %v", err)
	}

	if result.FromTemplate {
		t.Error("matcher failure means no template")
	}
	if result.Strategy != string(resolve.StrategyWhiteBox) {
		t.Errorf("Strategy = %s, want %s", result.Strategy, resolve.StrategyWhiteBox)
	}
	if !containsDegradation(result, pipeerrors.ErrorMatchingUnavailable) {
		t.Errorf("Degradations = %v, want MATCHING_UNAVAILABLE recorded", result.Degradations)
	}
}

func TestGenerateMemeDetectorFailureDegrades(t *testing.T) {
	f := newFixture(t, &fakeMatcher{result: matchedResult(10)}, &fakeDetector{err: errors.New("ocr crashed")})

	result, err := f.pipeline.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-o",
		ImageBuffer: pngBytes(t, 400, 400),
		Caption:     "TOP",
	})
	if err != nil {
		t.Fatalf("detector failure must not abort the request: %v", err)
	}

	if result.InpaintingApplied || f.remover.calls != 0 {
		t.Error("failed detection means no blocks, so no inpainting")
	}
	if !containsDegradation(result, pipeerrors.ErrorDetectionUnavailable) {
		t.Errorf("Degradations = %v, want DETECTION_UNAVAILABLE recorded", result.Degradations)
	}
}

func TestGenerateMemeHinterFailureUsesTemplateBase(t *testing.T) {
	f := newFixture(t, &fakeMatcher{result: matchedResult(92)}, &fakeDetector{})
	f.hinter.err = errors.New("vision service down")

	result, err := f.pipeline.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-h",
		ImageBuffer: pngBytes(t, 400, 400),
		Caption:     "TOP|BOTTOM",
	})
	if err != nil {
		t.Fatalf("hinter failure must not abort the request: %v", err)
	}

	if !result.FromTemplate {
		t.Error("the template base is still used when only layout hints fail")
	}
	if result.Strategy != string(resolve.StrategyWhiteBox) {
		t.Errorf("Strategy = %s, want %s", result.Strategy, resolve.StrategyWhiteBox)
	}
	if !containsDegradation(result, pipeerrors.ErrorLayoutHintUnavailable) {
		t.Errorf("Degradations = %v, want LAYOUT_HINT_UNAVAILABLE recorded", result.Degradations)
	}
}

func TestGenerateMemeRenderFailureIsFatal(t *testing.T) {
	renderer, err := render.NewRenderer("")
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	p, err := NewPipeline(
		&fakeMatcher{result: matchedResult(10)},
		&fakeDetector{},
		&fakeRemover{},
		resolve.NewResolver(nil, renderer),
		failingRenderer{},
		Config{MinTextBlocks: 1})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	_, err = p.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-r",
		ImageBuffer: pngBytes(t, 200, 200),
		Caption:     "TOP",
	})
	if err == nil {
		t.Fatal("render failure must fail the request")
	}
	if !pipeerrors.HasCode(err, pipeerrors.ErrorRenderingFailed) {
		t.Errorf("error = %v, want RENDERING_FAILED", err)
	}
}

func TestGenerateMemeCaptionSplitting(t *testing.T) {
	tests := []struct {
		name     string
		req      GenerateRequest
		expected []string
	}{
		{
			name:     "pipe separated",
			req:      GenerateRequest{Caption: "TOP | BOTTOM"},
			expected: []string{"TOP", "BOTTOM"},
		},
		{
			name:     "explicit parts win",
			req:      GenerateRequest{Caption: "IGNORED", CaptionParts: []string{"A", "B"}},
			expected: []string{"A", "B"},
		},
		{
			name:     "empty segments dropped",
			req:      GenerateRequest{Caption: "ONE||  |TWO"},
			expected: []string{"ONE", "TWO"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := captionParts(&tt.req)
			if len(got) != len(tt.expected) {
				t.Fatalf("captionParts = %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("part %d = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestGenerateMemeRejectsEmptyCaption(t *testing.T) {
	f := newFixture(t, &fakeMatcher{result: matchedResult(10)}, &fakeDetector{})

	_, err := f.pipeline.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-e",
		ImageBuffer: pngBytes(t, 100, 100),
		Caption:     " | ",
	})
	if err == nil {
		t.Fatal("a caption with no usable parts must be rejected")
	}
}

func TestGenerateMemeRejectsUndecodableImage(t *testing.T) {
	f := newFixture(t, &fakeMatcher{result: matchedResult(10)}, &fakeDetector{})

	_, err := f.pipeline.GenerateMeme(context.Background(), &GenerateRequest{
		RequestID:   "req-x",
		ImageBuffer: []byte("not an image"),
		Caption:     "TOP",
	})
	if err == nil {
		t.Fatal("undecodable bytes must be rejected")
	}
	if !pipeerrors.HasCode(err, pipeerrors.ErrorInvalidImage) {
		t.Errorf("error = %v, want INVALID_IMAGE", err)
	}
}

func containsDegradation(result *GenerateResult, code pipeerrors.ErrorCode) bool {
	for _, d := range result.Degradations {
		if d == string(code) {
			return true
		}
	}
	return false
}
