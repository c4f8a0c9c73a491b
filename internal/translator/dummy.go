package translator

import "context"

// DummyEngine prefixes every segment with the target language code. Used for
// development runs and round-trip tests without network access.
type DummyEngine struct{}

func NewDummyEngine() *DummyEngine {
	return &DummyEngine{}
}

func (d *DummyEngine) Name() string { return "dummy" }

func (d *DummyEngine) TranslateBatch(ctx context.Context, req BatchRequest) (map[string]string, error) {
	out := make(map[string]string, len(req.Segments))
	for _, s := range req.Segments {
		out[s.ID] = "[" + req.TargetLang + "] " + s.Text
	}
	return out, nil
}
