// Remote artifact storage: the read/write/complete subset of the remote
// caching protocol. Team/signature negotiation and analytics belong to
// the remote service, not this client.
//
// The write path streams the archive already written to
// outputs/<hash>.tar.zst straight from disk, since Engine.StoreOutputs
// produces that file locally before any remote push is attempted.
package cacheengine

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// RemoteClient talks to a remote artifact store over HTTP, restricted to
// the read/write/complete operations.
type RemoteClient struct {
	baseURL    string
	token      string
	teamID     string
	httpClient *retryablehttp.Client
}

// NewRemoteClient constructs a RemoteClient bound to baseURL, authenticating
// every request with token (a bearer token, mirroring cache_http.go's
// Authorization header) and scoping requests to teamID when non-empty.
func NewRemoteClient(baseURL, token, teamID string, logger hclog.Logger) *RemoteClient {
	hc := retryablehttp.NewClient()
	hc.Logger = hclog.NewNullLogger()
	hc.RetryMax = 2
	if logger != nil {
		hc.Logger = logger.Named("cache.remote")
	}
	return &RemoteClient{baseURL: baseURL, token: token, teamID: teamID, httpClient: hc}
}

func (c *RemoteClient) artifactURL(hash string, extraQuery string) string {
	url := fmt.Sprintf("%s/v8/artifacts/%s", c.baseURL, hash)
	query := ""
	if c.teamID != "" {
		query = "teamId=" + c.teamID
	}
	if extraQuery != "" {
		if query != "" {
			query += "&"
		}
		query += extraQuery
	}
	if query != "" {
		url += "?" + query
	}
	return url
}

func (c *RemoteClient) newRequest(method, url string, body io.Reader) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequest(method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "cacheengine: building remote request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("x-artifact-client-ci", "moon")
	req.Header.Set("x-artifact-request-id", uuid.NewString())
	return req, nil
}

// ReadArtifact downloads hash's archive from the remote store into
// destPath (conventionally Engine.outputArchivePath(hash)), returning
// hit=false on a 404 (a remote cache miss is not an error).
func (c *RemoteClient) ReadArtifact(hash string, destPath string) (hit bool, err error) {
	req, err := c.newRequest(http.MethodGet, c.artifactURL(hash, ""), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, errors.Wrapf(err, "cacheengine: fetching remote artifact %s", hash)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return false, nil
	case http.StatusOK:
		tmp := destPath + ".tmp"
		f, err := os.Create(tmp)
		if err != nil {
			return false, errors.Wrapf(err, "cacheengine: staging remote artifact %s", hash)
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			os.Remove(tmp)
			return false, errors.Wrapf(err, "cacheengine: downloading remote artifact %s", hash)
		}
		if err := f.Close(); err != nil {
			os.Remove(tmp)
			return false, errors.Wrapf(err, "cacheengine: closing remote artifact %s", hash)
		}
		if err := os.Rename(tmp, destPath); err != nil {
			os.Remove(tmp)
			return false, errors.Wrapf(err, "cacheengine: installing remote artifact %s", hash)
		}
		return true, nil
	default:
		return false, errors.Errorf("cacheengine: remote artifact %s: unexpected status %d", hash, resp.StatusCode)
	}
}

// WriteArtifact uploads the archive already stored at srcPath (conventionally
// Engine.outputArchivePath(hash)) to the remote store under hash, tagged
// with duration so the remote can advertise how long the item lives.
func (c *RemoteClient) WriteArtifact(hash string, srcPath string, duration time.Duration) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "cacheengine: opening local artifact %s for remote write", hash)
	}
	defer f.Close()

	req, err := c.newRequest(http.MethodPut, c.artifactURL(hash, ""), f)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-artifact-duration", fmt.Sprintf("%d", int(duration.Seconds())))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "cacheengine: uploading remote artifact %s", hash)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return errors.Errorf("cacheengine: uploading remote artifact %s: unexpected status %d", hash, resp.StatusCode)
	}
	return nil
}

// CompleteArtifact marks hash's upload as finished, the acknowledgement
// the remote needs to make a partial upload visible.
func (c *RemoteClient) CompleteArtifact(hash string) error {
	req, err := c.newRequest(http.MethodPost, c.artifactURL(hash, "status=completed"), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "cacheengine: completing remote artifact %s", hash)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.Errorf("cacheengine: completing remote artifact %s: unexpected status %d", hash, resp.StatusCode)
	}
	return nil
}
