package detection

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/menta2k/stride-detect/pkg/types"
)

// LoadLabels reads a names table, one class name per line. The line index is the class id,
// so blank lines inside the file are kept as unnamed slots; trailing blank lines are dropped.
// An unnamed slot resolves to its class number.
func LoadLabels(path string) (types.Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open labels file %s", path)
	}
	defer f.Close()

	labels := types.Labels{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read labels file %s", path)
	}

	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("labels file %s has no class names", path)
	}
	return labels, nil
}
