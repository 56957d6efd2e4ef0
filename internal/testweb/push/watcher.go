package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/testweb/testweb/internal/testweb/backend"
	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
)

// ErrConnection marks failures of the push channel itself rather than of the test.
var ErrConnection = errors.New("push channel failed")

// Watcher follows a remote test over the backend's websocket status feed.
type Watcher struct {
	baseUrl string
	dialer  *websocket.Dialer
}

func NewWatcher(config configuration.PushConfig) *Watcher {
	return &Watcher{
		baseUrl: strings.TrimRight(config.URL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// Watch reads status frames until the remote test finishes. Frames with a progress value
// are passed to onProgress. A completed frame returns its results and a failed or error
// frame returns a *backend.RemoteFailure. Any problem with the connection is returned
// wrapped in ErrConnection.
func (w *Watcher) Watch(ctx context.Context, testType domain.TestType, remoteId string, onProgress domain.ProgressFunc) (json.RawMessage, error) {
	target := fmt.Sprintf("%s/%s", w.baseUrl, url.PathEscape(remoteId))
	conn, resp, err := w.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(ErrConnection, "dial %s: %v (status %d)", target, err, resp.StatusCode)
		}
		return nil, errors.Wrapf(ErrConnection, "dial %s: %v", target, err)
	}
	defer conn.Close()

	// Unblock the read loop when the caller gives up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	logger := log.WithFields(log.Fields{"type": testType, "remoteId": remoteId})
	for {
		var frame backend.StatusResponse
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrapf(ErrConnection, "read from %s: %v", target, err)
		}

		switch frame.Status {
		case backend.RemoteCompleted:
			return frame.Results, nil
		case backend.RemoteFailed, backend.RemoteError:
			return nil, backend.NewRemoteFailure(testType, frame.Message)
		case backend.RemotePending, backend.RemoteRunning:
			if frame.Progress != nil && onProgress != nil {
				onProgress(*frame.Progress, frame.CurrentStep, frame.Metrics)
			}
		default:
			logger.Debugf("Ignoring push frame with status %q", frame.Status)
		}
	}
}
