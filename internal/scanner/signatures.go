package scanner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Category string

const (
	CategoryScreenRecorder   Category = "screen_recorder"
	CategoryAutomation       Category = "automation"
	CategoryClipboardManager Category = "clipboard_manager"
	CategoryDevTools         Category = "devtools"
	CategoryAdBlocker        Category = "ad_blocker"
	CategoryUnknown          Category = "unknown"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// GlobalSignature matches when Name is defined on window.
type GlobalSignature struct {
	Name        string     `yaml:"name"`
	ID          string     `yaml:"id"`
	Category    Category   `yaml:"category"`
	Confidence  Confidence `yaml:"confidence"`
	Description string     `yaml:"description"`
}

// SelectorSignature matches when Selector finds an element injected by a tool.
type SelectorSignature struct {
	Selector    string     `yaml:"selector"`
	ID          string     `yaml:"id"`
	Category    Category   `yaml:"category"`
	Confidence  Confidence `yaml:"confidence"`
	Description string     `yaml:"description"`
}

type Signatures struct {
	Globals   []GlobalSignature   `yaml:"globals"`
	Selectors []SelectorSignature `yaml:"selectors"`
}

func DefaultSignatures() *Signatures {
	return &Signatures{
		Globals: []GlobalSignature{
			{Name: "callPhantom", ID: "phantomjs", Category: CategoryAutomation, Confidence: ConfidenceHigh, Description: "PhantomJS headless browser"},
			{Name: "_phantom", ID: "phantomjs", Category: CategoryAutomation, Confidence: ConfidenceHigh, Description: "PhantomJS headless browser"},
			{Name: "__nightmare", ID: "nightmare", Category: CategoryAutomation, Confidence: ConfidenceHigh, Description: "Nightmare automation"},
			{Name: "domAutomation", ID: "chrome-automation", Category: CategoryAutomation, Confidence: ConfidenceHigh, Description: "Chrome automation controller"},
			{Name: "domAutomationController", ID: "chrome-automation", Category: CategoryAutomation, Confidence: ConfidenceHigh, Description: "Chrome automation controller"},
			{Name: "__selenium_unwrapped", ID: "selenium", Category: CategoryAutomation, Confidence: ConfidenceHigh, Description: "Selenium WebDriver"},
			{Name: "__webdriver_evaluate", ID: "selenium", Category: CategoryAutomation, Confidence: ConfidenceHigh, Description: "Selenium WebDriver"},
			{Name: "__pwInitScripts", ID: "playwright", Category: CategoryAutomation, Confidence: ConfidenceHigh, Description: "Playwright automation"},
			{Name: "__loomExtension", ID: "loom", Category: CategoryScreenRecorder, Confidence: ConfidenceHigh, Description: "Loom screen recorder"},
			{Name: "__screencastify", ID: "screencastify", Category: CategoryScreenRecorder, Confidence: ConfidenceHigh, Description: "Screencastify screen recorder"},
			{Name: "__clipboardHistory", ID: "clipboard-history", Category: CategoryClipboardManager, Confidence: ConfidenceMedium, Description: "Clipboard history extension"},
			{Name: "__REACT_DEVTOOLS_GLOBAL_HOOK__", ID: "react-devtools", Category: CategoryDevTools, Confidence: ConfidenceLow, Description: "React Developer Tools"},
			{Name: "__VUE_DEVTOOLS_GLOBAL_HOOK__", ID: "vue-devtools", Category: CategoryDevTools, Confidence: ConfidenceLow, Description: "Vue.js devtools"},
			{Name: "__REDUX_DEVTOOLS_EXTENSION__", ID: "redux-devtools", Category: CategoryDevTools, Confidence: ConfidenceLow, Description: "Redux DevTools"},
		},
		Selectors: []SelectorSignature{
			{Selector: "#loom-companion-mv3", ID: "loom", Category: CategoryScreenRecorder, Confidence: ConfidenceHigh, Description: "Loom screen recorder"},
			{Selector: "[id^='screencastify']", ID: "screencastify", Category: CategoryScreenRecorder, Confidence: ConfidenceHigh, Description: "Screencastify screen recorder"},
			{Selector: "#nimbus-capture-panel", ID: "nimbus", Category: CategoryScreenRecorder, Confidence: ConfidenceMedium, Description: "Nimbus screenshot and recorder"},
			{Selector: "grammarly-desktop-integration, grammarly-extension", ID: "grammarly", Category: CategoryUnknown, Confidence: ConfidenceLow, Description: "Grammarly writing assistant"},
			{Selector: "[data-clipboard-manager]", ID: "clipboard-history", Category: CategoryClipboardManager, Confidence: ConfidenceMedium, Description: "Clipboard history extension"},
		},
	}
}

// LoadSignatures reads a YAML table and overlays it on the defaults. Entries
// replace built-ins with the same global name or selector.
func LoadSignatures(path string) (*Signatures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signatures %s: %w", path, err)
	}

	var overlay Signatures
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse signatures %s: %w", path, err)
	}

	for _, g := range overlay.Globals {
		if g.Name == "" || g.ID == "" {
			return nil, fmt.Errorf("global signature needs name and id: %+v", g)
		}
	}
	for _, s := range overlay.Selectors {
		if s.Selector == "" || s.ID == "" {
			return nil, fmt.Errorf("selector signature needs selector and id: %+v", s)
		}
	}

	return DefaultSignatures().merge(&overlay), nil
}

func (s *Signatures) merge(overlay *Signatures) *Signatures {
	out := &Signatures{}

	globals := make(map[string]int)
	for _, g := range append(append([]GlobalSignature{}, s.Globals...), overlay.Globals...) {
		g = g.normalized()
		if i, ok := globals[g.Name]; ok {
			out.Globals[i] = g
			continue
		}
		globals[g.Name] = len(out.Globals)
		out.Globals = append(out.Globals, g)
	}

	selectors := make(map[string]int)
	for _, sel := range append(append([]SelectorSignature{}, s.Selectors...), overlay.Selectors...) {
		sel = sel.normalized()
		if i, ok := selectors[sel.Selector]; ok {
			out.Selectors[i] = sel
			continue
		}
		selectors[sel.Selector] = len(out.Selectors)
		out.Selectors = append(out.Selectors, sel)
	}

	return out
}

func (g GlobalSignature) normalized() GlobalSignature {
	g.Category, g.Confidence = normalize(g.Category, g.Confidence)
	return g
}

func (s SelectorSignature) normalized() SelectorSignature {
	s.Category, s.Confidence = normalize(s.Category, s.Confidence)
	return s
}

func normalize(c Category, conf Confidence) (Category, Confidence) {
	switch c {
	case CategoryScreenRecorder, CategoryAutomation, CategoryClipboardManager, CategoryDevTools, CategoryAdBlocker:
	default:
		c = CategoryUnknown
	}
	switch conf {
	case ConfidenceHigh, ConfidenceMedium:
	default:
		conf = ConfidenceLow
	}
	return c, conf
}
