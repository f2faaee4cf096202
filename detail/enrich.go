package detail

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/peposaru/milivault/catalog"
)

// Classification is a classifier's verdict for one product.
type Classification struct {
	ItemType   string
	Conflict   string
	Nation     string
	Supergroup string
}

// Classifier derives category labels from a product's text. Implementations
// live outside this module; nil disables classification entirely.
type Classifier interface {
	Classify(ctx context.Context, title, description string) (Classification, error)
}

// Embedder turns a product's text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// mlToggles records which classifier outputs are disabled by environment.
type mlToggles struct {
	itemType bool
	conflict bool
	nation   bool
}

func togglesFromEnv() mlToggles {
	return mlToggles{
		itemType: envFlag("ML_DISABLE_ITEM_TYPE"),
		conflict: envFlag("ML_DISABLE_CONFLICT"),
		nation:   envFlag("ML_DISABLE_NATION"),
	}
}

func envFlag(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// enrich runs the optional classifier and embedder and persists whatever
// they produced. Enrichment failures are soft; the catalog row already
// holds the extracted data.
func (pr *Processor) enrich(ctx context.Context, p *catalog.Product, f fields) error {
	if p == nil || (pr.Classifier == nil && pr.Embedder == nil) {
		return nil
	}
	diff := map[string]any{}

	if pr.Classifier != nil {
		cl, err := pr.Classifier.Classify(ctx, f.Title, f.Description)
		if err != nil {
			return err
		}
		if !pr.disabled.itemType && cl.ItemType != "" && cl.ItemType != p.ItemTypeAI {
			diff["item_type_ai_generated"] = cl.ItemType
		}
		if !pr.disabled.conflict && cl.Conflict != "" && cl.Conflict != p.ConflictAI {
			diff["conflict_ai_generated"] = cl.Conflict
		}
		if !pr.disabled.nation && cl.Nation != "" && cl.Nation != p.NationAI {
			diff["nation_ai_generated"] = cl.Nation
		}
		if cl.Supergroup != "" && cl.Supergroup != p.SupergroupAI {
			diff["supergroup_ai_generated"] = cl.Supergroup
		}
	}
	if pr.Embedder != nil && len(p.Vector) == 0 {
		vec, err := pr.Embedder.Embed(ctx, f.Title+"\n"+f.Description)
		if err != nil {
			return err
		}
		if len(vec) > 0 {
			diff["openai_vector"] = encodeFloatsJSON(vec)
		}
	}
	if len(diff) == 0 {
		return nil
	}
	return pr.Store.UpdateProductFields(ctx, p.ID, diff)
}

func encodeFloatsJSON(v []float64) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
