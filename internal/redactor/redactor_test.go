package redactor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-redact/internal/detector"
	"github.com/example/face-redact/internal/imaging"
	"github.com/example/face-redact/internal/repository"
)

type stubDetector struct {
	faces    []detector.Face
	errs     []error
	calls    int
	blockCtx bool
}

func (s *stubDetector) DetectFaces(ctx context.Context, image []byte) ([]detector.Face, error) {
	s.calls++
	if s.blockCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.faces, nil
}

type stubCache struct {
	values  map[string]string
	setErr  error
	setKeys []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if s.setErr != nil {
		return s.setErr
	}
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key], _ = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", errors.New("miss")
}

type stubRepo struct {
	saved   []*repository.RedactionLog
	saveErr error
	found   *repository.RedactionLog
	findErr error
}

func (s *stubRepo) SaveLog(ctx context.Context, log *repository.RedactionLog) error {
	s.saved = append(s.saved, log)
	return s.saveErr
}

func (s *stubRepo) FindByRequestID(ctx context.Context, requestID string) (*repository.RedactionLog, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.found, nil
}

func (s *stubRepo) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.RedactionLog, error) {
	return nil, nil
}

func (s *stubRepo) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{TotalCount: 2, TotalFaces: 3, AverageLatencyMs: 12}, nil
}

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func testImagePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{0, 0, 0, 255}
			if (x+y)%2 == 0 {
				c = color.RGBA{255, 255, 255, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func newTestRedactor(det detector.Detector, cache Cache, repo Repository) *Redactor {
	r := New(det, cache, repo, zap.NewNop(), Options{})
	r.initialBackoff = time.Millisecond
	r.maxBackoff = 2 * time.Millisecond
	return r
}

func TestRedactBlursDetectedFace(t *testing.T) {
	det := &stubDetector{faces: []detector.Face{
		{Box: detector.BoundingBox{Left: 10, Top: 10, Width: 30, Height: 30}, Confidence: 0.95},
	}}
	red := newTestRedactor(det, nil, nil)

	input := testImagePNG(t, 100, 100)
	result, err := red.Redact(context.Background(), input, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FacesRedacted != 1 {
		t.Fatalf("expected 1 face redacted, got %d", result.FacesRedacted)
	}
	if result.Format != "png" {
		t.Fatalf("expected png output, got %q", result.Format)
	}
	if result.RequestID == "" {
		t.Fatal("expected a request id")
	}

	original, _, err := imaging.Decode(input)
	if err != nil {
		t.Fatalf("decode input: %v", err)
	}
	out, _, err := imaging.Decode(result.Image)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	region := image.Rect(10, 10, 40, 40)
	changedInside, changedOutside := diffRegions(original, out, region)
	if !changedInside {
		t.Fatal("face region was not softened")
	}
	if changedOutside {
		t.Fatal("pixels outside the face region changed")
	}
}

func TestRedactZeroFacesLeavesImageUntouched(t *testing.T) {
	det := &stubDetector{}
	red := newTestRedactor(det, nil, nil)

	input := testImagePNG(t, 100, 100)
	result, err := red.Redact(context.Background(), input, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FacesRedacted != 0 {
		t.Fatalf("expected 0 faces, got %d", result.FacesRedacted)
	}

	original, _, _ := imaging.Decode(input)
	out, _, err := imaging.Decode(result.Image)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !bytes.Equal(original.Pix, out.Pix) {
		t.Fatal("output differs from input despite zero detections")
	}
}

func TestRedactDiscardsBoxOutsideImage(t *testing.T) {
	det := &stubDetector{faces: []detector.Face{
		{Box: detector.BoundingBox{Left: 200, Top: 200, Width: 50, Height: 50}, Confidence: 0.99},
	}}
	red := newTestRedactor(det, nil, nil)

	result, err := red.Redact(context.Background(), testImagePNG(t, 100, 100), Options{})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.FacesRedacted != 0 {
		t.Fatalf("expected 0 faces, got %d", result.FacesRedacted)
	}
}

func TestRedactFiltersLowConfidence(t *testing.T) {
	det := &stubDetector{faces: []detector.Face{
		{Box: detector.BoundingBox{Left: 10, Top: 10, Width: 20, Height: 20}, Confidence: 0.50},
		{Box: detector.BoundingBox{Left: 50, Top: 50, Width: 20, Height: 20}, Confidence: 0.90},
	}}
	red := newTestRedactor(det, nil, nil)

	result, err := red.Redact(context.Background(), testImagePNG(t, 100, 100), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FacesRedacted != 1 {
		t.Fatalf("expected only the confident face, got %d", result.FacesRedacted)
	}
}

func TestRedactRejectsInvalidImageBeforeDetection(t *testing.T) {
	det := &stubDetector{}
	red := newTestRedactor(det, nil, nil)

	_, err := red.Redact(context.Background(), []byte("not an image"), Options{})
	if KindOf(err) != KindDecode {
		t.Fatalf("expected %s, got %v", KindDecode, err)
	}
	if det.calls != 0 {
		t.Fatalf("detector must not be called for undecodable input, got %d calls", det.calls)
	}
}

func TestRedactDetectionTimeout(t *testing.T) {
	det := &stubDetector{blockCtx: true}
	red := newTestRedactor(det, nil, nil)

	result, err := red.Redact(context.Background(), testImagePNG(t, 50, 50), Options{Timeout: 10 * time.Millisecond})
	if KindOf(err) != KindDetection {
		t.Fatalf("expected %s, got %v", KindDetection, err)
	}
	if result != nil {
		t.Fatal("no result may be returned on detection failure")
	}
}

func TestRedactRetriesTransientDetectionErrors(t *testing.T) {
	det := &stubDetector{
		errs: []error{transientTestError{}, transientTestError{}, nil},
		faces: []detector.Face{
			{Box: detector.BoundingBox{Left: 5, Top: 5, Width: 10, Height: 10}, Confidence: 0.99},
		},
	}
	red := newTestRedactor(det, nil, nil)

	result, err := red.Redact(context.Background(), testImagePNG(t, 50, 50), Options{MaxRetries: 2})
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if det.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", det.calls)
	}
	if result.FacesRedacted != 1 {
		t.Fatalf("expected 1 face, got %d", result.FacesRedacted)
	}
}

func TestRedactDoesNotRetryPermanentErrors(t *testing.T) {
	det := &stubDetector{errs: []error{errors.New("invalid argument")}}
	red := newTestRedactor(det, nil, nil)

	_, err := red.Redact(context.Background(), testImagePNG(t, 50, 50), Options{MaxRetries: 3})
	if KindOf(err) != KindDetection {
		t.Fatalf("expected %s, got %v", KindDetection, err)
	}
	if det.calls != 1 {
		t.Fatalf("permanent error must fail on the first attempt, got %d calls", det.calls)
	}
}

func TestRedactInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"negative blur strength", Options{BlurStrength: -1}},
		{"excessive blur strength", Options{BlurStrength: 11}},
		{"unknown mode", Options{Mode: "swirl"}},
		{"retries above ceiling", Options{MaxRetries: 4}},
		{"negative retries", Options{MaxRetries: -1}},
		{"negative timeout", Options{Timeout: -time.Second}},
		{"threshold above one", Options{ConfidenceThreshold: 1.5}},
		{"unsupported output format", Options{OutputFormat: "tiff"}},
	}

	det := &stubDetector{}
	red := newTestRedactor(det, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := red.Redact(context.Background(), testImagePNG(t, 20, 20), tt.opts)
			if KindOf(err) != KindConfiguration {
				t.Fatalf("expected %s, got %v", KindConfiguration, err)
			}
		})
	}
	if det.calls != 0 {
		t.Fatalf("invalid options must fail before detection, got %d calls", det.calls)
	}
}

func TestRedactPixelateMode(t *testing.T) {
	det := &stubDetector{faces: []detector.Face{
		{Box: detector.BoundingBox{Left: 0, Top: 0, Width: 50, Height: 50}, Confidence: 0.99},
	}}
	red := newTestRedactor(det, nil, nil)

	result, err := red.Redact(context.Background(), testImagePNG(t, 100, 100), Options{Mode: ModePixelate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FacesRedacted != 1 {
		t.Fatalf("expected 1 face, got %d", result.FacesRedacted)
	}
}

func TestRedactOutputFormatOverride(t *testing.T) {
	det := &stubDetector{}
	red := newTestRedactor(det, nil, nil)

	result, err := red.Redact(context.Background(), testImagePNG(t, 30, 30), Options{OutputFormat: "jpg"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Format != "jpeg" {
		t.Fatalf("expected jpeg, got %q", result.Format)
	}
	if _, format, err := imaging.Decode(result.Image); err != nil || format != "jpeg" {
		t.Fatalf("output is not a decodable jpeg: format=%q err=%v", format, err)
	}
}

func TestRedactPersistsAuditLogBestEffort(t *testing.T) {
	det := &stubDetector{faces: []detector.Face{
		{Box: detector.BoundingBox{Left: 5, Top: 5, Width: 10, Height: 10}, Confidence: 0.99},
	}}
	repo := &stubRepo{}
	cache := &stubCache{}
	red := newTestRedactor(det, cache, repo)

	result, err := red.Redact(context.Background(), testImagePNG(t, 50, 50), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected 1 persisted log, got %d", len(repo.saved))
	}
	saved := repo.saved[0]
	if saved.RequestID != result.RequestID {
		t.Fatalf("log request id %q does not match result %q", saved.RequestID, result.RequestID)
	}
	if saved.FacesRedacted != 1 || saved.SHA1Hash == "" {
		t.Fatalf("incomplete log entry: %+v", saved)
	}
	if len(cache.setKeys) == 0 {
		t.Fatal("expected cache writes")
	}
}

func TestRedactSucceedsWhenPersistenceFails(t *testing.T) {
	det := &stubDetector{}
	repo := &stubRepo{saveErr: errors.New("db down")}
	cache := &stubCache{setErr: errors.New("redis down")}
	red := newTestRedactor(det, cache, repo)

	result, err := red.Redact(context.Background(), testImagePNG(t, 30, 30), Options{})
	if err != nil {
		t.Fatalf("persistence failures must not fail the redaction: %v", err)
	}
	if len(result.Image) == 0 {
		t.Fatal("expected image output")
	}
}

func TestGetLogWithoutRepository(t *testing.T) {
	red := newTestRedactor(&stubDetector{}, nil, nil)

	if _, err := red.GetLog(context.Background(), "some-id"); !errors.Is(err, ErrNoRepository) {
		t.Fatalf("expected ErrNoRepository, got %v", err)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	red := newTestRedactor(&stubDetector{}, nil, &stubRepo{})

	summary, err := red.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalRequests != 2 || summary.TotalFaces != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.AverageFaces != 1.5 {
		t.Fatalf("expected average 1.5, got %g", summary.AverageFaces)
	}
}

func diffRegions(a, b *image.RGBA, region image.Rectangle) (changedInside, changedOutside bool) {
	bounds := a.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			offA := a.PixOffset(x, y)
			offB := b.PixOffset(x, y)
			same := bytes.Equal(a.Pix[offA:offA+4], b.Pix[offB:offB+4])
			if same {
				continue
			}
			if image.Pt(x, y).In(region) {
				changedInside = true
			} else {
				changedOutside = true
			}
		}
	}
	return changedInside, changedOutside
}
