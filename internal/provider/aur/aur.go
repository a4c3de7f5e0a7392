// Package aur loads the Arch User Repository package metadata, so that
// dependencies only packaged in the AUR still resolve.
package aur

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/open-edge-platform/deb2arch/internal/ospackage"
	"github.com/open-edge-platform/deb2arch/internal/provider"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
	"github.com/open-edge-platform/deb2arch/internal/utils/network"
)

const (
	Name = provider.AURName

	// Repository is recorded on every package from the AUR.
	Repository = "aur"

	// metadataPath is the daily dump of every AUR package including its
	// provides.
	metadataPath = "/packages-meta-ext-v1.json.gz"
)

var DefaultMirror = "https://aur.archlinux.org"

var gzipMagic = []byte{0x1f, 0x8b}

// AUR implements provider.Provider on top of the AUR metadata dump.
type AUR struct {
	base   string
	client *http.Client
}

// Package is one entry of the metadata dump. Unknown fields are ignored.
type Package struct {
	Name        string   `json:"Name"`
	Version     string   `json:"Version"`
	Description string   `json:"Description"`
	Provides    []string `json:"Provides"`
}

func init() {
	provider.Register(Name, func() provider.Provider { return &AUR{} })
}

func (p *AUR) Name() string { return Name }

func (p *AUR) Init(cfg provider.Config) error {
	base := cfg.AURURL
	if base == "" {
		base = DefaultMirror
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid AUR URL %q", base)
	}
	p.base = strings.TrimSuffix(base, "/")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	p.client = network.NewSecureHTTPClient(timeout)
	return nil
}

// MetadataURL is where the package dump is downloaded from.
func (p *AUR) MetadataURL() string {
	return p.base + metadataPath
}

func (p *AUR) Packages(ctx context.Context) ([]ospackage.PackageInfo, error) {
	log := logger.Logger()
	u := p.MetadataURL()
	log.Infof("Fetching AUR metadata %s", u)
	body, err := network.Get(ctx, p.client, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	pkgs, err := ParseMetadata(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", u, err)
	}
	log.Infof("Found %d packages in the AUR", len(pkgs))
	return pkgs, nil
}

// ParseMetadata decodes the JSON array of the metadata dump. The stream
// may still be gzip-compressed when the server did not set
// Content-Encoding.
func ParseMetadata(r io.Reader) ([]ospackage.PackageInfo, error) {
	br := bufio.NewReader(r)
	var dec io.Reader = br
	if head, _ := br.Peek(2); bytes.Equal(head, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip metadata: %w", err)
		}
		defer zr.Close()
		dec = zr
	}

	jd := json.NewDecoder(dec)
	if tok, err := jd.Token(); err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	} else if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("metadata is not a JSON array")
	}
	var pkgs []ospackage.PackageInfo
	for jd.More() {
		var ap Package
		if err := jd.Decode(&ap); err != nil {
			return nil, fmt.Errorf("failed to decode package %d: %w", len(pkgs), err)
		}
		if ap.Name == "" {
			return nil, fmt.Errorf("package %d has no name", len(pkgs))
		}
		pkgs = append(pkgs, ospackage.PackageInfo{
			Name:        ap.Name,
			Version:     ap.Version,
			Description: ap.Description,
			Repository:  Repository,
			Provides:    ap.Provides,
		})
	}
	if _, err := jd.Token(); err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return pkgs, nil
}
