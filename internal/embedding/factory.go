package embedding

import "fmt"

// Model kinds accepted by NewEncoder.
const (
	ModelCLIP   = "clip"
	ModelRemote = "remote"
	ModelMock   = "mock"
)

// Names recorded in the interaction log when none is configured.
const (
	DefaultCLIPModelName   = "openai/clip-vit-base-patch32"
	DefaultRemoteModelName = "Salesforce/blip2-opt-2.7b"
)

const huggingFaceInferenceURL = "https://api-inference.huggingface.co/models/"

// ModelConfig selects and configures an encoder.
type ModelConfig struct {
	Model      string // clip, remote or mock
	Name       string // model identifier; also picks the hosted endpoint for remote
	Dimensions int
	CLIP       CLIPConfig
	Remote     RemoteConfig
}

// NewEncoder builds the encoder for cfg.Model and returns it with the model name to
// record against searches.
func NewEncoder(cfg ModelConfig) (Encoder, string, error) {
	switch cfg.Model {
	case ModelCLIP, "":
		name := nameOr(cfg.Name, DefaultCLIPModelName)
		clipCfg := cfg.CLIP
		if clipCfg.Dimensions == 0 {
			clipCfg.Dimensions = cfg.Dimensions
		}
		enc, err := NewCLIPEncoder(clipCfg)
		if err != nil {
			return nil, "", err
		}
		return enc, name, nil
	case ModelRemote:
		name := nameOr(cfg.Name, DefaultRemoteModelName)
		remote := cfg.Remote
		if remote.URL == "" {
			remote.URL = huggingFaceInferenceURL + name
		}
		if remote.Dimensions == 0 {
			remote.Dimensions = cfg.Dimensions
		}
		enc, err := NewRemoteEncoder(remote)
		if err != nil {
			return nil, "", err
		}
		return enc, name, nil
	case ModelMock:
		return NewMockEncoder(cfg.Dimensions), ModelMock, nil
	default:
		return nil, "", fmt.Errorf("unknown embedding model %q (supported: clip, remote, mock)", cfg.Model)
	}
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
