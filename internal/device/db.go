package device

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultDBRoot is where udev-style per-device state is persisted.
const DefaultDBRoot = "/run/udev/data"

// LoadDatabase reads the persistent database entry for rec (derived via
// rec.DeviceID) and applies its devlinks, tags, watch handle, and first-seen
// timestamp onto rec. It must not be called on a sealed record (spec.md §3:
// sealed records are populated only from the wire payload). A missing file
// is not an error: it simply means the device is not yet initialized.
func LoadDatabase(dbRoot string, rec *Record, log *logrus.Entry) error {
	if rec.Sealed() {
		return fmt.Errorf("device: cannot load database onto a sealed record")
	}
	if dbRoot == "" {
		dbRoot = DefaultDBRoot
	}
	if log == nil {
		log = logrus.WithField("component", "device.db")
	}

	id, err := rec.DeviceID()
	if err != nil {
		return err
	}
	path := filepath.Join(dbRoot, id)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("device: open database %s: %w", path, err)
	}
	defer f.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 || line[1] != ':' {
			continue
		}
		letter, value := line[0], line[2:]
		switch letter {
		case 'S':
			rec.addDevlink(filepath.Join("/dev", value))
		case 'L':
			if n, err := strconv.Atoi(value); err == nil {
				rec.devlinkPriority = n
			}
		case 'E':
			if eq := strings.IndexByte(value, '='); eq >= 0 {
				rec.setProperty(value[:eq], value[eq+1:])
			}
		case 'G':
			rec.addTag(value)
		case 'W':
			if n, err := strconv.Atoi(value); err == nil {
				rec.watchHandle = n
			}
		case 'I':
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				rec.firstSeenUsec = n
			}
		default:
			log.WithField("letter", string(letter)).Debug("ignoring unknown database line")
		}
	}
	rec.dbConsumed = true
	return scanner.Err()
}
