package build

// ImageConfig accumulates the metadata a stage's ARG/LABEL/ENV/ENTRYPOINT/CMD
// instructions build up, independent of the root filesystem delta overlay
// tracks. Only the last stage's config is carried into the final image.
type ImageConfig struct {
	Labels     map[string]string
	Env        map[string]string
	EnvOrder   []string // insertion order, since ENV re-declarations must keep their original position
	Entrypoint []string
	Cmd        []string
}

// NewImageConfig returns an empty config ready for a fresh stage.
func NewImageConfig() *ImageConfig {
	return &ImageConfig{
		Labels: make(map[string]string),
		Env:    make(map[string]string),
	}
}

// AddLabel records a LABEL key/value pair, last write wins.
func (c *ImageConfig) AddLabel(key, value string) {
	c.Labels[key] = value
}

// AddEnv records an ENV key/value pair, preserving first-seen order for keys
// that are only ever set once, and not duplicating order entries on
// re-declaration.
func (c *ImageConfig) AddEnv(key, value string) {
	if _, exists := c.Env[key]; !exists {
		c.EnvOrder = append(c.EnvOrder, key)
	}
	c.Env[key] = value
}

// Envp renders the accumulated environment as "KEY=VALUE" strings in
// insertion order, the form a RUN instruction's child process receives.
func (c *ImageConfig) Envp() []string {
	out := make([]string, 0, len(c.EnvOrder))
	for _, k := range c.EnvOrder {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}
