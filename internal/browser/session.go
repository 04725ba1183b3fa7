package browser

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog"
)

// scenePathRe extracts the scene id from the host application's
// /scenes/{id} routes.
var scenePathRe = regexp.MustCompile(`/scenes/(\d+)`)

// Session wraps the host application's page for the rest of the agent.
type Session struct {
	page   *rod.Page
	logger zerolog.Logger
}

func newSession(page *rod.Page, logger zerolog.Logger) *Session {
	return &Session{page: page, logger: logger}
}

// Page exposes the underlying rod page for the DOM layer.
func (s *Session) Page() *rod.Page {
	return s.page
}

// CurrentURL returns the page's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("session: page info: %w", err)
	}
	return info.URL, nil
}

// CurrentSceneID derives the scene id from the current location.
// Empty string means the page is not on a scene route.
func (s *Session) CurrentSceneID(ctx context.Context) (string, error) {
	u, err := s.CurrentURL(ctx)
	if err != nil {
		return "", err
	}
	m := scenePathRe.FindStringSubmatch(u)
	if m == nil {
		return "", nil
	}
	return m[1], nil
}

// HTML serialises the full document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("session: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Navigate loads a URL in the session tab and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("session: navigate %s: %w", url, err)
	}
	if err := s.page.Context(ctx).WaitLoad(); err != nil {
		s.logger.Warn().Err(err).Str("url", url).Msg("wait load timeout")
	}
	return nil
}
