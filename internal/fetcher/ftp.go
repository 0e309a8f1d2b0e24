package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/config"
)

// FTPFetcher downloads data-room exports over FTP. A source ending in
// "/" pulls every regular file in that directory; otherwise a single
// file. Credentials come from the URL userinfo, defaulting to anonymous.
type FTPFetcher struct {
	timeout time.Duration
}

// NewFTP builds an FTP fetcher from config defaults.
func NewFTP(cfg config.FetchConfig) *FTPFetcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FTPFetcher{timeout: timeout}
}

func parseFTPURL(rawURL string) (host, remotePath, user, pass string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", "", "", eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" {
		return "", "", "", "", eris.New("fetcher: empty path in ftp url")
	}

	user = "anonymous"
	pass = "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	return host, u.Path, user, pass, nil
}

// Fetch downloads the file or directory behind source into destDir.
func (f *FTPFetcher) Fetch(ctx context.Context, source, destDir string) ([]string, error) {
	host, remotePath, user, pass, err := parseFTPURL(source)
	if err != nil {
		return nil, err
	}
	if err := ensureDir(destDir); err != nil {
		return nil, err
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp dial %s", host)
	}
	defer conn.Quit()

	if err := conn.Login(user, pass); err != nil {
		return nil, eris.Wrap(err, "fetcher: ftp login")
	}

	if strings.HasSuffix(remotePath, "/") {
		return f.fetchDir(conn, remotePath, destDir)
	}

	dest, err := f.fetchFile(conn, remotePath, destDir)
	if err != nil {
		return nil, err
	}
	return []string{dest}, nil
}

func (f *FTPFetcher) fetchDir(conn *ftp.ServerConn, remoteDir, destDir string) ([]string, error) {
	entries, err := conn.List(remoteDir)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp list %s", remoteDir)
	}

	var fetched []string
	for _, entry := range entries {
		if entry.Type != ftp.EntryTypeFile {
			continue
		}
		dest, err := f.fetchFile(conn, path.Join(remoteDir, entry.Name), destDir)
		if err != nil {
			return nil, err
		}
		fetched = append(fetched, dest)
	}
	if len(fetched) == 0 {
		return nil, eris.Errorf("fetcher: no files under %s", remoteDir)
	}
	return fetched, nil
}

func (f *FTPFetcher) fetchFile(conn *ftp.ServerConn, remotePath, destDir string) (string, error) {
	resp, err := conn.Retr(remotePath)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: ftp retrieve %s", remotePath)
	}
	defer resp.Close()

	dest := filepath.Join(destDir, safeFilename(remotePath))
	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: create %s", dest)
	}
	n, err := io.Copy(out, resp)
	closeErr := out.Close()
	if err != nil {
		os.Remove(dest)
		return "", eris.Wrapf(err, "fetcher: write %s", dest)
	}
	if closeErr != nil {
		return "", eris.Wrapf(closeErr, "fetcher: close %s", dest)
	}

	zap.L().Info("fetcher: ftp downloaded",
		zap.String("remote", remotePath),
		zap.String("dest", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}
