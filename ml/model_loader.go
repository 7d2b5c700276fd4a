package ml

import (
	"errors"
	"fmt"
)

const ModelTypeRandomForest = "random_forest"

var errUnsupportedModel = errors.New("unsupported model type")

func LoadModel(modelType, path string) (*Artifact, error) {
	switch modelType {
	case ModelTypeRandomForest, "":
		return LoadArtifact(path)
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedModel, modelType)
	}
}
