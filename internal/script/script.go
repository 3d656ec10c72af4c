// Package script renders personalized scripts from templates.
package script

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/personaliz/personaliz-server/internal/pipeline"
	"github.com/personaliz/personaliz-server/internal/voice"
)

// ErrTemplateNotFound is returned for unknown template ids.
var ErrTemplateNotFound = errors.New("template not found")

// RequiredVariables must appear in every template.
var RequiredVariables = []string{"name", "city", "phone"}

// Template is a script with {{variable}} placeholders. Greeting and Closing
// are the lines spoken in the personalized windows.
type Template struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Greeting    string   `json:"greeting"`
	Closing     string   `json:"closing"`
	Variables   []string `json:"variables"`
}

// UserData holds the values substituted into a template.
type UserData struct {
	Name          string `json:"name"`
	City          string `json:"city"`
	Phone         string `json:"phone"`
	CustomMessage string `json:"custom_message,omitempty"`
}

// Script is a rendered template.
type Script struct {
	ID                string        `json:"id"`
	TemplateID        string        `json:"template_id"`
	Content           string        `json:"content"`
	Greeting          string        `json:"greeting"`
	Closing           string        `json:"closing"`
	EstimatedDuration time.Duration `json:"-"`
	EstimatedSeconds  float64       `json:"estimated_seconds"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Lines maps window kinds to the text spoken in them.
func (s Script) Lines() map[pipeline.PointKind]string {
	return map[pipeline.PointKind]string{
		pipeline.PointGreeting: s.Greeting,
		pipeline.PointCustom:   s.Closing,
	}
}

var builtinTemplates = []Template{
	{
		ID:          "marketing_intro",
		Name:        "Marketing Introduction",
		Description: "Introduces the product with a personal greeting",
		Content: `Hi {{name}}! I hope you're having a great day in {{city}}.

I wanted to reach out personally to introduce you to our solution that's helping businesses in {{city}} grow faster.

We'll follow up at {{phone}} with the details. Looking forward to connecting with you, {{name}}!`,
		Greeting: "Hi {{name}}! Greetings to you in {{city}}!",
		Closing:  "Looking forward to connecting with you, {{name}}!",
	},
	{
		ID:          "welcome_message",
		Name:        "Welcome Message",
		Description: "Welcomes a new customer",
		Content: `Welcome {{name}}! We're thrilled to have you join us from {{city}}.

Your account is set up and ready to go. If you need anything, we'll reach you at {{phone}}.

Welcome aboard, {{name}}!`,
		Greeting: "Welcome {{name}}! Great to have you with us from {{city}}.",
		Closing:  "Welcome aboard, {{name}}!",
	},
	{
		ID:          "promotion_offer",
		Name:        "Promotion Offer",
		Description: "Announces an exclusive offer",
		Content: `Hello {{name}}! We have an exclusive offer just for our friends in {{city}}.

For a limited time you get special pricing on our premium plan. Reply to this message or call {{phone}} to claim it.

Don't miss out, {{name}}!`,
		Greeting: "Hello {{name}}! Here's something special for {{city}}.",
		Closing:  "Don't miss out, {{name}}!",
	},
}

var variablePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Service holds the template catalog. It is safe for concurrent use.
type Service struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewService creates a Service loaded with the built-in templates.
func NewService() *Service {
	s := &Service{templates: make(map[string]Template)}
	for _, t := range builtinTemplates {
		t.Variables = extractVariables(t.Content + t.Greeting + t.Closing)
		s.templates[t.ID] = t
	}
	return s
}

// Templates returns all templates ordered by id.
func (s *Service) Templates() []Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Values(s.templates)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Template returns the template with id.
func (s *Service) Template(id string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return t, nil
}

// Search returns templates whose name or description contains query.
func (s *Service) Search(query string) []Template {
	q := strings.ToLower(strings.TrimSpace(query))
	return lo.Filter(s.Templates(), func(t Template, _ int) bool {
		return strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Description), q)
	})
}

// AddTemplate validates and stores a custom template, assigning an id when
// none is given.
func (s *Service) AddTemplate(t Template) (Template, error) {
	if strings.TrimSpace(t.Name) == "" || strings.TrimSpace(t.Content) == "" {
		return Template{}, errors.New("template name and content are required")
	}
	if err := Validate(t.Content); err != nil {
		return Template{}, err
	}
	if t.ID == "" {
		t.ID = "custom_" + uuid.NewString()[:8]
	}
	if t.Greeting == "" {
		t.Greeting = "Hi {{name}} from {{city}}!"
	}
	t.Variables = extractVariables(t.Content + t.Greeting + t.Closing)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[t.ID]; exists {
		return Template{}, fmt.Errorf("template %s already exists", t.ID)
	}
	s.templates[t.ID] = t
	return t, nil
}

// Generate renders the template with data.
func (s *Service) Generate(templateID string, data UserData) (Script, error) {
	t, err := s.Template(templateID)
	if err != nil {
		return Script{}, err
	}

	content := collapseBlankLines(render(t.Content, data))
	greeting := render(t.Greeting, data)
	if data.CustomMessage != "" {
		greeting = fmt.Sprintf("Hi %s! %s", data.Name, strings.TrimSpace(data.CustomMessage))
	}

	est := voice.EstimateDuration(content)
	return Script{
		ID:                uuid.NewString(),
		TemplateID:        t.ID,
		Content:           content,
		Greeting:          greeting,
		Closing:           render(t.Closing, data),
		EstimatedDuration: est,
		EstimatedSeconds:  est.Seconds(),
		CreatedAt:         time.Now(),
	}, nil
}

// Validate checks that content uses every required variable.
func Validate(content string) error {
	vars := extractVariables(content)
	missing := lo.Without(RequiredVariables, vars...)
	if len(missing) > 0 {
		return fmt.Errorf("template is missing required variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func render(text string, data UserData) string {
	values := map[string]string{
		"name":  data.Name,
		"city":  data.City,
		"phone": data.Phone,
	}
	return variablePattern.ReplaceAllStringFunc(text, func(m string) string {
		key := variablePattern.FindStringSubmatch(m)[1]
		if v, ok := values[key]; ok {
			return v
		}
		return m
	})
}

func extractVariables(text string) []string {
	matches := variablePattern.FindAllStringSubmatch(text, -1)
	return lo.Uniq(lo.Map(matches, func(m []string, _ int) string { return m[1] }))
}

var blankLines = regexp.MustCompile(`\n\s*\n+`)

func collapseBlankLines(s string) string {
	return strings.TrimSpace(blankLines.ReplaceAllString(s, "\n\n"))
}
