package web

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"tusker/activitypub"
	"tusker/util"
)

// serveAutoTLS terminates TLS with Let's Encrypt certificates. Certificates
// are cached under the config directory so restarts do not re-issue, and a
// plain-HTTP listener on :80 answers ACME http-01 challenges.
func serveAutoTLS(fed *activitypub.Federation, handler http.Handler) error {
	confDir, err := util.GetConfigDir()
	if err != nil {
		return fmt.Errorf("could not resolve certificate cache dir: %w", err)
	}

	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(fed.Conf.Conf.Domain),
		Cache:      autocert.DirCache(filepath.Join(confDir, "certs")),
	}

	go func() {
		challenge := &http.Server{
			Addr:              ":80",
			Handler:           m.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		if err := challenge.ListenAndServe(); err != nil {
			fed.Log.Error("acme challenge listener failed", "err", err)
		}
	}()

	s := &http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         m.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	fed.Log.Info("serving with automatic tls", "domain", fed.Conf.Conf.Domain)
	return s.ListenAndServeTLS("", "")
}
