package rewrite

import (
	"errors"
	"testing"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// loraTemplate builds a minimal text-to-image template with a LoRA
// node wrapping the model and clip chains, mirroring the shape of the
// stock t2i templates.
func loraTemplate() *types.WorkflowTemplate {
	return &types.WorkflowTemplate{
		Name: "t2i_test",
		Data: types.Graph{
			"16": {ClassType: "UNETLoader", Inputs: map[string]types.FieldValue{
				"unet_name": types.Lit("base.safetensors"),
			}},
			"11": {ClassType: "CLIPLoader", Inputs: map[string]types.FieldValue{
				"clip_name": types.Lit("clip.safetensors"),
			}},
			"28": {ClassType: "LoraLoader", Inputs: map[string]types.FieldValue{
				"lora_name":      types.Lit("none"),
				"strength_model": types.Lit(1.0),
				"model":          types.RefTo("16", 0),
				"clip":           types.RefTo("11", 0),
			}},
			"6": {ClassType: "CLIPTextEncode", Inputs: map[string]types.FieldValue{
				"text": types.Lit(""),
				"clip": types.RefTo("28", 1),
			}},
			"7": {ClassType: "CLIPTextEncode", Inputs: map[string]types.FieldValue{
				"text": types.Lit(""),
				"clip": types.RefTo("28", 1),
			}},
			"13": {ClassType: "EmptyLatentImage", Inputs: map[string]types.FieldValue{
				"width":  types.Lit(512),
				"height": types.Lit(512),
			}},
			"3": {ClassType: "KSampler", Inputs: map[string]types.FieldValue{
				"seed":     types.Lit(0),
				"steps":    types.Lit(20),
				"cfg":      types.Lit(8.0),
				"model":    types.RefTo("28", 0),
				"positive": types.RefTo("6", 0),
				"negative": types.RefTo("7", 0),
				"latent":   types.RefTo("13", 0),
			}},
			"9": {ClassType: "SaveImage", Inputs: map[string]types.FieldValue{
				"images": types.RefTo("3", 0),
			}},
		},
		Map: types.FieldMap{
			"sampler":         "3",
			"positive_prompt": "6",
			"negative_prompt": "7",
			"model":           "16",
			"model_field":     "unet_name",
			"latent":          "13",
			"save":            "9",
			"lora":            "28",
			"lora_field":      "lora_name",
		},
	}
}

func baseParams() *types.GenerationParams {
	return &types.GenerationParams{
		Workflow:       "t2i_test",
		Prompt:         "a lighthouse at dusk",
		NegativePrompt: "blurry",
		Seed:           12345,
		Steps:          30,
		CFG:            7.5,
		Width:          1024,
		Height:         768,
	}
}

func TestApplyInjectsParams(t *testing.T) {
	tmpl := loraTemplate()
	p := baseParams()
	p.Lora = "style.safetensors"

	g, err := Apply(tmpl, p)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if got := g["3"].Inputs["seed"].Literal; got != int64(12345) {
		t.Errorf("seed = %v, want 12345", got)
	}
	if got := g["3"].Inputs["steps"].Literal; got != 30 {
		t.Errorf("steps = %v, want 30", got)
	}
	if got := g["3"].Inputs["cfg"].Literal; got != 7.5 {
		t.Errorf("cfg = %v, want 7.5", got)
	}
	if got := g["6"].Inputs["text"].Literal; got != "a lighthouse at dusk" {
		t.Errorf("positive prompt = %v", got)
	}
	if got := g["7"].Inputs["text"].Literal; got != "blurry" {
		t.Errorf("negative prompt = %v", got)
	}
	if got := g["13"].Inputs["width"].Literal; got != 1024 {
		t.Errorf("width = %v, want 1024", got)
	}
	if got := g["13"].Inputs["height"].Literal; got != 768 {
		t.Errorf("height = %v, want 768", got)
	}
	if got := g["28"].Inputs["lora_name"].Literal; got != "style.safetensors" {
		t.Errorf("lora_name = %v", got)
	}
}

func TestApplyModelSelection(t *testing.T) {
	t.Run("non-empty model overrides template default", func(t *testing.T) {
		p := baseParams()
		p.Model = "finetune.safetensors"
		p.Lora = "x"

		g, err := Apply(loraTemplate(), p)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if got := g["16"].Inputs["unet_name"].Literal; got != "finetune.safetensors" {
			t.Errorf("unet_name = %v", got)
		}
	})

	t.Run("empty model keeps template default", func(t *testing.T) {
		p := baseParams()
		p.Lora = "x"

		g, err := Apply(loraTemplate(), p)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if got := g["16"].Inputs["unet_name"].Literal; got != "base.safetensors" {
			t.Errorf("unet_name = %v, want template default", got)
		}
	})
}

func TestApplySkipsAbsentRoles(t *testing.T) {
	tmpl := loraTemplate()
	tmpl.Map = types.FieldMap{"sampler": "3"} // everything else unbound

	g, err := Apply(tmpl, baseParams())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	// No LoRA role bound: the node count must be unchanged.
	if len(g) != len(tmpl.Data) {
		t.Errorf("node count changed: %d -> %d", len(tmpl.Data), len(g))
	}
	if got := g["6"].Inputs["text"].Literal; got != "" {
		t.Errorf("unbound prompt node was rewritten: %v", got)
	}
}

func TestApplyDoesNotMutateTemplate(t *testing.T) {
	tmpl := loraTemplate()
	p := baseParams() // lora empty -> bypass splice

	if _, err := Apply(tmpl, p); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if _, ok := tmpl.Data["28"]; !ok {
		t.Fatal("splice removed the LoRA node from the template itself")
	}
	if got := tmpl.Data["3"].Inputs["seed"].Literal; got != 0 {
		t.Errorf("template sampler seed mutated: %v", got)
	}
	if tmpl.Data["3"].Inputs["model"].Ref.NodeID != "28" {
		t.Error("template connectivity mutated")
	}
}

func TestLoraSplice(t *testing.T) {
	t.Run("bypass removes and heals over the node", func(t *testing.T) {
		p := baseParams()
		p.LoraBypass = true
		p.Lora = "style.safetensors" // bypass wins over a supplied id

		g, err := Apply(loraTemplate(), p)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		if _, ok := g["28"]; ok {
			t.Fatal("LoRA node still present after bypass")
		}
		// Slot 0 consumers reconnect to the upstream model source.
		if ref := g["3"].Inputs["model"].Ref; ref == nil || ref.NodeID != "16" || ref.Slot != 0 {
			t.Errorf("sampler model ref = %+v, want 16/0", ref)
		}
		// Slot 1 consumers reconnect to the upstream clip source.
		for _, id := range []string{"6", "7"} {
			if ref := g[id].Inputs["clip"].Ref; ref == nil || ref.NodeID != "11" || ref.Slot != 0 {
				t.Errorf("node %s clip ref = %+v, want 11/0", id, ref)
			}
		}
		if err := g.Validate(); err != nil {
			t.Errorf("spliced graph has dangling references: %v", err)
		}
	})

	t.Run("missing lora id also bypasses", func(t *testing.T) {
		g, err := Apply(loraTemplate(), baseParams())
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if _, ok := g["28"]; ok {
			t.Error("LoRA node present despite missing lora id")
		}
	})

	t.Run("enable keeps template connectivity", func(t *testing.T) {
		tmpl := loraTemplate()
		p := baseParams()
		p.Lora = "style.safetensors"

		g, err := Apply(tmpl, p)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if _, ok := g["28"]; !ok {
			t.Fatal("LoRA node removed despite being enabled")
		}
		for id, node := range tmpl.Data {
			for name, v := range node.Inputs {
				if v.Ref == nil {
					continue
				}
				got := g[id].Inputs[name].Ref
				if got == nil || *got != *v.Ref {
					t.Errorf("node %s input %q rewired: %+v -> %+v", id, name, v.Ref, got)
				}
			}
		}
	})

	t.Run("no upstream reference is a structural error", func(t *testing.T) {
		tmpl := loraTemplate()
		// Sever the LoRA node's upstream model input.
		tmpl.Data["28"].Inputs["model"] = types.Lit("broken")

		p := baseParams()
		p.LoraBypass = true

		_, err := Apply(tmpl, p)
		if !errors.Is(err, ErrLoraUpstream) {
			t.Fatalf("expected ErrLoraUpstream, got %v", err)
		}
	})
}

func TestApplyRejectsBadMap(t *testing.T) {
	tmpl := loraTemplate()
	tmpl.Map["sampler"] = "404"

	_, err := Apply(tmpl, baseParams())
	if !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("expected ErrDanglingReference, got %v", err)
	}
}
