// Package portal reads the total savings balance from the Legal & General
// customer portal by driving a browser through its login flow.
package portal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rjlee/actual-landg-pension/internal/login"
)

// PortalURL is the customer portal entry point.
const PortalURL = "https://myaccount.landg.com"

const (
	selCookieBanner = "#onetrust-accept-btn-handler"
	selUsername     = `input[data-testid="username"]`
	selPassword     = `input[data-testid="password"]`
	selSMSOption    = `lg-segment-button[data-testid="sms"]`
	selCodeInput    = `input[data-testid="verification-code"]`

	labelContinue = "Continue"
	labelLogIn    = "Log in"

	bannerTimeout  = 10 * time.Second
	fieldTimeout   = 30 * time.Second
	buttonTimeout  = 10 * time.Second
	twoFATimeout   = 5 * time.Second
	savingsTimeout = 10 * time.Second
)

// Credentials identify the portal account.
type Credentials struct {
	Email       string
	Password    string
	CookiesFile string
}

// Observer logs in to the portal and reads the current balance. Progress is
// published through the login coordinator it shares with the HTTP layer.
type Observer struct {
	browser     Browser
	coord       *login.Coordinator
	codeTimeout time.Duration
	fallback    Extractor
	log         zerolog.Logger
}

// NewObserver creates an observer. A non-positive codeTimeout uses
// login.DefaultCodeTimeout.
func NewObserver(browser Browser, coord *login.Coordinator, codeTimeout time.Duration, log zerolog.Logger) *Observer {
	if codeTimeout <= 0 {
		codeTimeout = login.DefaultCodeTimeout
	}
	return &Observer{
		browser:     browser,
		coord:       coord,
		codeTimeout: codeTimeout,
		log:         log.With().Str("component", "portal").Logger(),
	}
}

// WithFallback sets an extractor consulted when the savings text does not
// match the expected format.
func (o *Observer) WithFallback(e Extractor) *Observer {
	o.fallback = e
	return o
}

// Observe performs one login and returns the total savings in pounds.
func (o *Observer) Observe(ctx context.Context, creds Credentials) (float64, error) {
	if err := o.coord.Begin(); err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			o.coord.Fail(fmt.Errorf("portal login panicked: %v", r))
			panic(r)
		}
	}()

	value, err := o.observe(ctx, creds)
	if err != nil {
		o.log.Error().Err(err).Msg("Portal login failed")
		o.coord.Fail(err)
		return 0, err
	}

	o.coord.Resolve(value)
	o.log.Info().Float64("value", value).Msg("Read pension value")
	return value, nil
}

func (o *Observer) observe(ctx context.Context, creds Credentials) (float64, error) {
	page, err := o.browser.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer page.Close()

	if creds.CookiesFile != "" {
		if err := page.LoadCookies(creds.CookiesFile); err != nil {
			o.log.Debug().Err(err).Str("path", creds.CookiesFile).Msg("No usable cookie jar")
		}
	}

	if err := page.Navigate(PortalURL); err != nil {
		return 0, fmt.Errorf("navigate to portal: %w", err)
	}

	found, err := optional(page, selCookieBanner, bannerTimeout)
	if err != nil {
		o.log.Debug().Err(err).Msg("Cookie banner check failed")
	}
	if found {
		if err := page.Click(selCookieBanner); err != nil {
			o.log.Debug().Err(err).Msg("Could not dismiss cookie banner")
		}
	}

	if err := o.fill(page, selUsername, creds.Email, labelContinue); err != nil {
		return 0, fmt.Errorf("username step: %w", err)
	}
	if err := o.fill(page, selPassword, creds.Password, labelLogIn); err != nil {
		return 0, fmt.Errorf("password step: %w", err)
	}

	if err := o.twoFactor(ctx, page); err != nil {
		return 0, err
	}

	text, err := page.TextStartingWith(SavingsPrefix, savingsTimeout)
	if err != nil {
		return 0, fmt.Errorf("savings block: %w", err)
	}
	value, err := o.extract(ctx, text)
	if err != nil {
		return 0, err
	}

	if creds.CookiesFile != "" {
		if err := page.SaveCookies(creds.CookiesFile); err != nil {
			o.log.Warn().Err(err).Str("path", creds.CookiesFile).Msg("Failed to save cookie jar")
		}
	}
	return value, nil
}

func (o *Observer) fill(page Page, selector, value, button string) error {
	if err := page.WaitVisible(selector, fieldTimeout); err != nil {
		return err
	}
	if err := page.Type(selector, value); err != nil {
		return err
	}
	return page.ClickButton(button, buttonTimeout)
}

// twoFactor handles the SMS verification step when the portal asks for it.
func (o *Observer) twoFactor(ctx context.Context, page Page) error {
	found, err := optional(page, selSMSOption, twoFATimeout)
	if err != nil {
		return fmt.Errorf("2FA check: %w", err)
	}
	if !found {
		o.log.Debug().Msg("No 2FA step")
		return nil
	}

	if err := page.Click(selSMSOption); err != nil {
		return fmt.Errorf("choose SMS: %w", err)
	}
	if err := page.ClickButton(labelContinue, buttonTimeout); err != nil {
		return fmt.Errorf("request SMS: %w", err)
	}
	if err := page.WaitVisible(selCodeInput, o.codeTimeout); err != nil {
		return fmt.Errorf("verification page: %w", err)
	}

	o.log.Info().Msg("Waiting for 2FA code")
	code, err := o.coord.AwaitCode(ctx, o.codeTimeout)
	if err != nil {
		return err
	}

	if err := page.Type(selCodeInput, code); err != nil {
		return fmt.Errorf("enter code: %w", err)
	}
	if err := page.ClickButton(labelContinue, buttonTimeout); err != nil {
		return fmt.Errorf("submit code: %w", err)
	}
	return nil
}

func (o *Observer) extract(ctx context.Context, text string) (float64, error) {
	value, err := ParseSavings(text)
	if err == nil || o.fallback == nil {
		return value, err
	}

	o.log.Debug().Msg("Savings text not recognised, asking fallback extractor")
	answer, ferr := o.fallback.ExtractSavings(ctx, text)
	if ferr != nil {
		o.log.Warn().Err(ferr).Msg("Fallback extractor failed")
		return 0, err
	}
	return ParseSavings(answer)
}

// optional waits for a step that may legitimately be absent. Absence is
// (false, nil); anything else that stops the wait is an error.
func optional(page Page, selector string, timeout time.Duration) (bool, error) {
	err := page.WaitVisible(selector, timeout)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrWaitTimeout):
		return false, nil
	default:
		return false, err
	}
}
