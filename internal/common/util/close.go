package util

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// maxDrainBytes bounds how much of an unread body DrainAndClose discards.
const maxDrainBytes = 64 << 10

// DrainAndClose discards up to maxDrainBytes of what is left in rc and closes it. Failures
// are logged under name.
func DrainAndClose(name string, rc io.ReadCloser) {
	if _, err := io.Copy(io.Discard, io.LimitReader(rc, maxDrainBytes)); err != nil {
		log.WithError(err).Debugf("Failed to drain %s", name)
	}
	if err := rc.Close(); err != nil {
		log.WithError(err).Warnf("Failed to close %s cleanly", name)
	}
}
