package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads a JSON checkpoint file: an object mapping parameter paths
// to {"shape": [...], "data": [...]}.
func Load(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint load failed (%s): %w", path, err)
	}
	var tree Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("checkpoint parse failed (%s): %w", path, err)
	}
	if err := tree.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint invalid (%s): %w", path, err)
	}
	return tree, nil
}

// Save writes the tree as a JSON checkpoint file.
func Save(path string, tree Tree) error {
	if err := tree.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
