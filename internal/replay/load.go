package replay

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
)

// Load resolves a run by id or path and reads its record. ref may be a run.jsonl file,
// a run directory, or a run id under runsDir.
func Load(runsDir, ref string) (*runlog.Record, error) {
	candidates := []string{
		ref,
		filepath.Join(ref, runlog.RunFileName),
		filepath.Join(runsDir, ref, runlog.RunFileName),
	}
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		return runlog.LoadJSONL(path)
	}
	return nil, fmt.Errorf("load run %q: %w (searched %v)", ref, os.ErrNotExist, candidates)
}
