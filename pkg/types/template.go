package types

// Field map roles. A role binds a semantic parameter to a concrete
// node id within one template; roles absent from a map are skipped
// during rewriting.
const (
	RoleSampler        = "sampler"
	RolePositivePrompt = "positive_prompt"
	RoleNegativePrompt = "negative_prompt"
	RoleModel          = "model"
	RoleModelField     = "model_field"
	RoleLatent         = "latent"
	RoleSave           = "save"
	RoleLora           = "lora"
	RoleLoraField      = "lora_field"
)

// FieldMap binds semantic roles to node ids for one graph template.
// The *_field entries name the input field on the bound node rather
// than a node id (checkpoint loaders and LoRA loaders differ across
// templates: ckpt_name vs unet_name, lora_name...).
type FieldMap map[string]string

// Node returns the node id bound to a role, or "" if unbound.
func (m FieldMap) Node(role string) string {
	return m[role]
}

// WorkflowTemplate pairs a graph template with its field map,
// identified by name. Persisted independently of any generation
// request.
type WorkflowTemplate struct {
	Name string   `json:"name,omitempty"`
	Data Graph    `json:"data"`
	Map  FieldMap `json:"map"`
}
