package adspower

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// Selector lists mirror the storefront's markup in its two locales; each is
// probed in order and the first hit wins.
var (
	contactSelectors = []string{
		`a[href*="contact"]`,
		`a[href*="contacteer"]`,
		`.contact-button`,
		`[data-test="contact-button"]`,
	}
	messageSelectors = []string{
		`textarea[name="message"]`,
		`textarea[name="bericht"]`,
		`textarea#message`,
		`textarea[name="body"]`,
		`[data-test="message-field"]`,
	}
	submitSelectors = []string{
		`button[type="submit"]`,
		`[data-test="send-button"]`,
	}
)

// contactByTextJS is the fallback when no known selector matches: click the
// first button or link whose text looks like a contact affordance.
const contactByTextJS = `(() => {
	const words = ["contact", "bericht", "vraag"];
	for (const el of document.querySelectorAll("button, a")) {
		const text = (el.textContent || "").toLowerCase();
		if (words.some(w => text.includes(w))) { el.click(); return true; }
	}
	return false;
})()`

// Session is one attached browser for a started profile. Release is
// idempotent and always stops the profile, even after a failed submit.
type Session struct {
	client    *Client
	profileID string

	allocCancel context.CancelFunc
	taskCancel  context.CancelFunc
	taskCtx     context.Context

	releaseOnce sync.Once
}

// Acquire starts the profile's browser and attaches over DevTools. The
// profile is stopped again if the attach fails.
func (c *Client) Acquire(ctx context.Context, profileID string) (*Session, error) {
	ws, err := c.StartProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), ws)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	// Attach eagerly so a dead websocket surfaces here, not mid-dispatch.
	attachCtx, cancel := context.WithTimeout(taskCtx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(attachCtx); err != nil {
		taskCancel()
		allocCancel()
		c.stopQuietly(profileID)
		return nil, err
	}

	return &Session{
		client:      c,
		profileID:   profileID,
		allocCancel: allocCancel,
		taskCancel:  taskCancel,
		taskCtx:     taskCtx,
	}, nil
}

func (s *Session) Navigate(ctx context.Context, pageURL string) error {
	runCtx, cancel := context.WithTimeout(s.taskCtx, 30*time.Second)
	defer cancel()
	go cancelOn(ctx, runCtx, cancel)

	return chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(2*time.Second),
	)
}

// SubmitContactForm tries the storefront's contact flow: open the contact
// form, type the message, submit. Returns (false, nil) when the page has no
// recognizable contact affordance at all; a mailto link alone counts as
// reachable, matching how sellers without forms are contacted by hand.
func (s *Session) SubmitContactForm(ctx context.Context, message string) (bool, error) {
	runCtx, cancel := context.WithTimeout(s.taskCtx, 60*time.Second)
	defer cancel()
	go cancelOn(ctx, runCtx, cancel)

	opened, err := s.openContactForm(runCtx)
	if err != nil {
		return false, err
	}
	if opened {
		sel, err := s.probe(runCtx, messageSelectors)
		if err != nil {
			return false, err
		}
		if sel != "" {
			submitted, err := s.typeAndSubmit(runCtx, sel, message)
			if err != nil {
				return false, err
			}
			if submitted {
				return true, nil
			}
		}
	}

	mailto, err := s.probe(runCtx, []string{`a[href^="mailto:"]`})
	if err != nil {
		return false, err
	}
	if mailto != "" {
		slog.Info("no contact form, seller has mailto link", "profile", s.profileID)
		return true, nil
	}
	return false, nil
}

func (s *Session) openContactForm(ctx context.Context) (bool, error) {
	sel, err := s.probe(ctx, contactSelectors)
	if err != nil {
		return false, err
	}
	if sel != "" {
		err := chromedp.Run(ctx,
			chromedp.Click(sel, chromedp.ByQuery),
			chromedp.Sleep(2*time.Second),
		)
		return err == nil, err
	}

	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(contactByTextJS, &clicked)); err != nil {
		return false, err
	}
	if clicked {
		if err := chromedp.Run(ctx, chromedp.Sleep(2*time.Second)); err != nil {
			return false, err
		}
	}
	return clicked, nil
}

func (s *Session) typeAndSubmit(ctx context.Context, messageSel, message string) (bool, error) {
	if err := chromedp.Run(ctx,
		chromedp.Click(messageSel, chromedp.ByQuery),
		chromedp.SendKeys(messageSel, message, chromedp.ByQuery),
	); err != nil {
		return false, err
	}

	sel, err := s.probe(ctx, submitSelectors)
	if err != nil {
		return false, err
	}
	if sel == "" {
		return false, nil
	}
	err = chromedp.Run(ctx,
		chromedp.Click(sel, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	)
	return err == nil, err
}

// probe returns the first selector present on the page, or "".
func (s *Session) probe(ctx context.Context, selectors []string) (string, error) {
	for _, sel := range selectors {
		var nodes []*cdp.Node
		err := chromedp.Run(ctx,
			chromedp.Nodes(sel, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)),
		)
		if err != nil {
			if strings.Contains(err.Error(), "invalid") {
				continue
			}
			return "", err
		}
		if len(nodes) > 0 {
			return sel, nil
		}
	}
	return "", nil
}

// Release detaches from the browser and stops the profile.
func (s *Session) Release() {
	s.releaseOnce.Do(func() {
		s.taskCancel()
		s.allocCancel()
		s.client.stopQuietly(s.profileID)
	})
}

func (c *Client) stopQuietly(profileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.StopProfile(ctx, profileID); err != nil {
		slog.Error("stop profile failed", "profile", profileID, "err", err)
	}
}

// cancelOn propagates cancellation from the caller's context into a
// chromedp run context, and exits when the run finishes on its own.
func cancelOn(caller, run context.Context, cancel context.CancelFunc) {
	select {
	case <-caller.Done():
		cancel()
	case <-run.Done():
	}
}
