package models

import "fmt"

// Registry maps a variant tag to its constructor, mirroring how checkpoints
// record which model they belong to.
var Registry = map[string]func(Config) (*LM, error){
	"base": New,
	"ball": NewBall,
}

// Build constructs the model for tag, or fails with a configuration error for
// unknown tags.
func Build(tag string, cfg Config) (*LM, error) {
	ctor, ok := Registry[tag]
	if !ok {
		return nil, &ConfigurationError{Field: "model", Reason: fmt.Sprintf("unknown variant %q", tag)}
	}
	return ctor(cfg)
}
