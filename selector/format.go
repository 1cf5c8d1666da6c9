package selector

import (
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MatrixJSON renders the full decision matrix as indented JSON, for --print-matrix's
// machine-readable mode.
func MatrixJSON() ([]byte, error) {
	return json.MarshalIndent(Matrix(), "", "  ")
}

// MatrixYAML renders the full decision matrix as YAML. policyctl's --print-matrix always
// emits JSON, and nothing in this module reads a YAML matrix back in.
func MatrixYAML() ([]byte, error) {
	return yaml.Marshal(Matrix())
}
