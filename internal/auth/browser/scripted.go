package browser

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
)

// ErrNoBrowser indicates no scriptable-browser Provider was configured,
// and the deployment also carries no ScriptedLoginProvider substitute.
var ErrNoBrowser = errors.New("browser: no provider configured")

// NullProvider satisfies Provider for deployments that intentionally
// run without any login automation; it always fails, forcing AuthEngine
// down the fatal-startup path rather than silently doing nothing.
type NullProvider struct{}

func (NullProvider) NewSession(ctx context.Context) (Session, error) {
	return nil, ErrNoBrowser
}

// ScriptedLoginProvider is the headless-deployment alternative to a
// real browser: it drives the vendor's login form over plain HTTPS with
// a cookie jar instead of a JS-capable browser. It only works against
// login pages that do not serve an anti-bot/JS challenge; when the
// vendor's page does, a real Session-backed Provider must be used
// instead.
type ScriptedLoginProvider struct {
	Client *http.Client
}

// NewScriptedLoginProvider builds a provider with its own cookie jar.
func NewScriptedLoginProvider() (*ScriptedLoginProvider, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &ScriptedLoginProvider{Client: &http.Client{Jar: jar}}, nil
}

func (p *ScriptedLoginProvider) NewSession(ctx context.Context) (Session, error) {
	return &scriptedSession{client: p.Client, fields: make(map[string]string)}, nil
}

// scriptedSession is a bare-bones Session: it keeps the last fetched
// page body so Type/Click can be simulated as form-field assignment
// followed by a POST of the page's <form> action.
type scriptedSession struct {
	client      *http.Client
	currentURL  string
	body        string
	fields      map[string]string
	formAction  string
}

var formActionRe = regexp.MustCompile(`(?is)<form[^>]*action="([^"]*)"`)
var inputNameRe = regexp.MustCompile(`(?is)<input[^>]*name="([^"]+)"[^>]*(?:value="([^"]*)")?`)

func (s *scriptedSession) Navigate(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	s.body = string(data)
	s.currentURL = resp.Request.URL.String()

	if m := formActionRe.FindStringSubmatch(s.body); len(m) == 2 {
		action, err := url.Parse(m[1])
		if err == nil {
			s.formAction = resp.Request.URL.ResolveReference(action).String()
		}
	}
	for _, m := range inputNameRe.FindAllStringSubmatch(s.body, -1) {
		s.fields[m[1]] = m[2]
	}
	return nil
}

func (s *scriptedSession) WaitForSelectorByID(ctx context.Context, id string) error {
	if !strings.Contains(s.body, `id="`+id+`"`) {
		return errors.New("browser: selector not found: " + id)
	}
	return nil
}

func (s *scriptedSession) Type(ctx context.Context, id, text string) error {
	s.fields[id] = text
	return nil
}

func (s *scriptedSession) Click(ctx context.Context, id string) error {
	if s.formAction == "" {
		return errors.New("browser: no form action known for click on " + id)
	}
	form := url.Values{}
	for k, v := range s.fields {
		form.Set(k, v)
	}
	req, err := http.NewRequest(http.MethodPost, s.formAction, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	s.body = string(data)
	s.currentURL = resp.Request.URL.String()
	return nil
}

func (s *scriptedSession) URL(ctx context.Context) (string, error) {
	return s.currentURL, nil
}

func (s *scriptedSession) WaitForURLPrefix(ctx context.Context, prefix string) (string, error) {
	if strings.HasPrefix(s.currentURL, prefix) {
		return s.currentURL, nil
	}
	return "", errors.New("browser: current url does not match expected redirect prefix")
}

func (s *scriptedSession) Cleanup(ctx context.Context) {}
