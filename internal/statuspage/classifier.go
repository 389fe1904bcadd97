// Package statuspage classifies status-page markup into a coarse health
// verdict. Classification is pure: no I/O, no clock, deterministic for a
// given document.
package statuspage

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// Verdicts.
const (
	StatusOperational = "operational"
	StatusDegraded    = "degraded"
	StatusMajorOutage = "major_outage"
	StatusMaintenance = "maintenance"
)

// Result is the classifier's verdict for one page.
type Result struct {
	Status      string
	IsHealthy   bool
	Description string
}

// Phrase tables are data so they can be extended and tested in isolation.
var incidentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)having issues`),
	regexp.MustCompile(`(?i)experiencing (problems|issues|difficulties)`),
	regexp.MustCompile(`(?i)currently (investigating|experiencing)`),
	regexp.MustCompile(`(?i)service disruption`),
	regexp.MustCompile(`(?i)degraded performance`),
	regexp.MustCompile(`(?i)partial outage`),
	regexp.MustCompile(`(?i)major outage`),
	regexp.MustCompile(`(?i)incident`),
	regexp.MustCompile(`(?i)maintenance in progress`),
}

var operationalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)all (systems|services) operational`),
	regexp.MustCompile(`(?i)no (issues|incidents)`),
	regexp.MustCompile(`(?i)everything.+operational`),
}

var majorOutageWords = []string{"major outage", "service unavailable", "completely down"}

var degradedComponentWords = []string{"degraded", "partial", "major", "outage", "incident"}

var (
	componentStatusClass = regexp.MustCompile(`(?i)component-status`)
	componentClass       = regexp.MustCompile(`(?i)component`)
	nameClass            = regexp.MustCompile(`(?i)name`)
	unresolvedClass      = regexp.MustCompile(`(?i)unresolved|active-incident|current-incident`)
	titleClass           = regexp.MustCompile(`(?i)title|name`)
	incidentBoxClass     = regexp.MustCompile(`(?i)incident|notice|status`)
	labelClass           = regexp.MustCompile(`(?i)title|name|message`)
	statusLabelText      = regexp.MustCompile(`(?i)^(Identified|Investigating|Monitoring|Update)$`)
)

const maxEvidence = 3

// Classify examines status-page markup and reports whether the page claims
// an active problem. Structural signals (component statuses, unresolved
// incident containers) take precedence over an "all systems operational"
// textual match, since boilerplate often contains the word "operational"
// even on a degraded page.
func Classify(markup, sourceURL string) Result {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		// Unparseable markup carries no signal either way.
		return Result{Status: StatusOperational, IsHealthy: true}
	}

	text := strings.ToLower(ExtractText(markup))

	var incidents []string
	for _, pat := range incidentPatterns {
		if loc := pat.FindStringIndex(text); loc != nil {
			incidents = append(incidents, surrounding(text, loc[0], loc[1]))
		}
	}

	degraded := degradedComponents(doc)
	unresolved := unresolvedIncidents(doc)
	incidents = append(incidents, unresolved...)
	incidents = append(incidents, labeledIncidents(doc)...)

	if len(incidents) > 0 || len(degraded) > 0 {
		description := joinEvidence(incidents)
		if len(degraded) > 0 {
			description = "Degraded: " + strings.Join(capped(degraded), ", ")
		}

		status := StatusDegraded
		if containsAny(text, majorOutageWords) {
			status = StatusMajorOutage
		} else if strings.Contains(text, "maintenance") {
			status = StatusMaintenance
		}
		return Result{Status: status, Description: description}
	}

	for _, pat := range operationalPatterns {
		if pat.MatchString(text) {
			return Result{Status: StatusOperational, IsHealthy: true}
		}
	}

	// No signal at all reads as healthy.
	return Result{Status: StatusOperational, IsHealthy: true}
}

// ExtractText renders the visible text of a document: script, style and
// chrome elements (nav, header, footer) are skipped.
func ExtractText(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "nav", "footer", "header":
				return
			}
		}
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

// degradedComponents finds Statuspage-style component rows whose status text
// indicates trouble and returns the component names.
func degradedComponents(doc *html.Node) []string {
	var names []string
	for _, comp := range nodesWithClass(doc, componentStatusClass) {
		compText := strings.ToLower(nodeText(comp))
		if !containsAny(compText, degradedComponentWords) {
			continue
		}
		parent := ancestorWithClass(comp, componentClass)
		if parent == nil {
			continue
		}
		if nameNode := descendantWithClass(parent, nameClass); nameNode != nil {
			if name := strings.TrimSpace(nodeText(nameNode)); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// unresolvedIncidents pulls titles out of unresolved-incident containers.
func unresolvedIncidents(doc *html.Node) []string {
	var titles []string
	for _, box := range nodesWithClass(doc, unresolvedClass) {
		if title := descendantWithClass(box, titleClass); title != nil {
			if t := strings.TrimSpace(nodeText(title)); t != "" {
				titles = append(titles, t)
			}
		}
	}
	return titles
}

// labeledIncidents looks for short incident status labels (Identified,
// Investigating, Monitoring, Update) inside incident containers.
func labeledIncidents(doc *html.Node) []string {
	var found []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			label := strings.TrimSpace(n.Data)
			if statusLabelText.MatchString(label) {
				if box := ancestorWithClass(n, incidentBoxClass); box != nil {
					if title := descendantWithClass(box, labelClass); title != nil {
						t := strings.TrimSpace(nodeText(title))
						if len(t) > 100 {
							t = t[:100]
						}
						if t != "" {
							found = append(found, label+": "+t)
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func nodesWithClass(doc *html.Node, class *regexp.Regexp) []*html.Node {
	var matches []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && class.MatchString(attr(n, "class")) {
			matches = append(matches, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return matches
}

func ancestorWithClass(n *html.Node, class *regexp.Regexp) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && class.MatchString(attr(p, "class")) {
			return p
		}
	}
	return nil
}

func descendantWithClass(n *html.Node, class *regexp.Regexp) *html.Node {
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && class.MatchString(attr(n, "class")) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return found
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// surrounding returns up to 100 characters of context on both sides of a
// phrase match, mirroring how the evidence reads on the page.
func surrounding(text string, start, end int) string {
	from := start - 100
	if from < 0 {
		from = 0
	}
	to := end + 100
	if to > len(text) {
		to = len(text)
	}
	return strings.TrimSpace(text[from:to])
}

func joinEvidence(evidence []string) string {
	if len(evidence) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(evidence))
	var unique []string
	for _, e := range capped(evidence) {
		if !seen[e] {
			seen[e] = true
			unique = append(unique, e)
		}
	}
	sort.Strings(unique)
	return strings.Join(unique, "; ")
}

func capped(items []string) []string {
	if len(items) > maxEvidence {
		return items[:maxEvidence]
	}
	return items
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
