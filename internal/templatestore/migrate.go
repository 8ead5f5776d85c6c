package templatestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// defaultMaps are the field maps for the stock templates that predate
// the wrapped document format. Legacy documents for other names get an
// empty map, which skips every rewrite step until the user binds roles.
var defaultMaps = map[string]types.FieldMap{
	"t2i_sdxl": {
		"sampler": "24", "positive_prompt": "6", "negative_prompt": "7",
		"model": "4", "model_field": "ckpt_name", "latent": "5", "save": "27",
	},
	"t2i_ZIT": {
		"sampler": "3", "positive_prompt": "6", "negative_prompt": "7",
		"model": "16", "model_field": "unet_name", "latent": "13", "save": "9",
		"lora": "28", "lora_field": "lora_name",
	},
	"i2v_wan22": {
		"sampler": "85", "positive_prompt": "93", "negative_prompt": "89",
		"model": "95", "model_field": "unet_name", "latent": "98", "save": "108",
	},
}

// Migrate rewrites legacy documents in place: a file holding a bare
// graph (no "data"/"map" wrapper, typically a raw export from the
// render backend's editor) is wrapped with the default field map for
// its name. Wrapped documents are left untouched. Returns the number
// of documents migrated.
//
// This is an explicit maintenance step, deliberately not performed as
// a side effect of reads or listings.
func (s *FileStore) Migrate(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}

	migrated := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")

		raw, err := os.ReadFile(s.path(name))
		if err != nil {
			return migrated, fmt.Errorf("read template %s: %w", name, err)
		}

		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			s.logger.Warn("skipping unparseable template", slog.String("name", name), "error", err)
			continue
		}
		if _, wrapped := probe["data"]; wrapped {
			continue
		}

		var graph types.Graph
		if err := json.Unmarshal(raw, &graph); err != nil {
			s.logger.Warn("skipping non-graph template", slog.String("name", name), "error", err)
			continue
		}

		fieldMap, ok := defaultMaps[name]
		if !ok {
			fieldMap = types.FieldMap{}
		}

		out, err := json.MarshalIndent(&document{Data: graph, Map: fieldMap}, "", "  ")
		if err != nil {
			return migrated, fmt.Errorf("encode template %s: %w", name, err)
		}
		if err := os.WriteFile(s.path(name), out, 0o644); err != nil {
			return migrated, fmt.Errorf("write template %s: %w", name, err)
		}

		s.logger.Info("migrated legacy template",
			slog.String("name", name),
			slog.Bool("default_map", ok),
		)
		migrated++
	}
	return migrated, nil
}
