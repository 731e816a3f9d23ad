package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/security"
)

// DirNotifier writes each message into Dir as an .html file plus its
// attachments. It stands in for SMTP in dev mode and backs
// `presence report --out`.
type DirNotifier struct {
	Dir string
}

// Send writes msg. File names derive from the subject and attachment names
// and cannot escape Dir.
func (n DirNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(n.Dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	base := security.SanitizeFilename(strings.TrimPrefix(msg.Subject, SubjectPrefix))
	files := map[string][]byte{base + ".html": []byte(msg.HTML)}
	for _, a := range msg.Attachments {
		files[base+"-"+security.SanitizeFilename(a.Filename)] = a.Data
	}

	for name, data := range files {
		path := filepath.Join(n.Dir, name)
		if err := security.ValidatePathWithinDirectory(path, n.Dir); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	monitoring.Logf("notify: wrote %q to %s", msg.Subject, n.Dir)
	return nil
}
