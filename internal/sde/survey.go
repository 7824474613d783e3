package sde

import (
	"context"
	"fmt"
	"strings"
)

// Survey answer formats accepted by SelectedAnswers.
const (
	AnswersSummary  = "summary"
	AnswersDetailed = "detailed"
	AnswersGrouped  = "grouped"
)

// AnswerMatch is the result of looking up one answer text in a survey.
type AnswerMatch struct {
	ID       string `json:"id,omitempty"`
	Text     string `json:"text,omitempty"`
	Question string `json:"question,omitempty"`
	Section  string `json:"section,omitempty"`
	Found    bool   `json:"found"`
}

type surveyAnswer struct {
	id, text, question, questionID, section string
}

// survey is the parsed form of a project survey document.
type survey struct {
	selected []string
	answers  []surveyAnswer
}

func parseSurvey(doc any) survey {
	var s survey
	obj, _ := doc.(map[string]any)
	if obj == nil {
		return s
	}
	if ids, ok := obj["answers"].([]any); ok {
		for _, id := range ids {
			s.selected = append(s.selected, str(id))
		}
	}
	sections, _ := obj["sections"].([]any)
	for _, sec := range sections {
		secObj, _ := sec.(map[string]any)
		title := str(secObj["title"])
		if title == "" {
			title = "Untitled Section"
		}
		questions, _ := secObj["questions"].([]any)
		for _, q := range questions {
			qObj, _ := q.(map[string]any)
			qText := str(qObj["text"])
			answers, _ := qObj["answers"].([]any)
			for _, a := range answers {
				aObj, _ := a.(map[string]any)
				id := str(aObj["id"])
				if id == "" {
					continue
				}
				s.answers = append(s.answers, surveyAnswer{
					id:         id,
					text:       str(aObj["text"]),
					question:   qText,
					questionID: str(qObj["id"]),
					section:    title,
				})
			}
		}
	}
	return s
}

// find matches text case-insensitively: an exact match wins, then the
// shortest answer containing text.
func (s survey) find(text string) (surveyAnswer, bool) {
	want := strings.ToLower(strings.TrimSpace(text))
	if want == "" {
		return surveyAnswer{}, false
	}
	var best surveyAnswer
	found := false
	for _, a := range s.answers {
		got := strings.ToLower(a.text)
		if got == want {
			return a, true
		}
		if strings.Contains(got, want) && (!found || len(a.text) < len(best.text)) {
			best, found = a, true
		}
	}
	return best, found
}

func (s survey) byID() map[string]surveyAnswer {
	m := make(map[string]surveyAnswer, len(s.answers))
	for _, a := range s.answers {
		m[a.id] = a
	}
	return m
}

// GetProjectSurvey fetches the full survey structure and the selected
// answer ids.
func (c *Client) GetProjectSurvey(ctx context.Context, projectID int) (any, error) {
	return c.Get(ctx, fmt.Sprintf("projects/%d/survey/", projectID), nil)
}

// UpdateProjectSurvey replaces the selected answers.
func (c *Client) UpdateProjectSurvey(ctx context.Context, projectID int, answerIDs []string, complete *bool) (any, error) {
	body := map[string]any{"answers": nonNil(answerIDs)}
	if complete != nil {
		body["survey_complete"] = *complete
	}
	return c.Put(ctx, fmt.Sprintf("projects/%d/survey/", projectID), body)
}

// CommitSurveyDraft publishes the draft survey, generating countermeasures.
func (c *Client) CommitSurveyDraft(ctx context.Context, projectID int) (any, error) {
	return c.Post(ctx, fmt.Sprintf("projects/%d/survey/draft/commit/", projectID), map[string]any{})
}

// FindSurveyAnswers looks each text up in the project's survey.
func (c *Client) FindSurveyAnswers(ctx context.Context, projectID int, texts []string) (map[string]AnswerMatch, error) {
	doc, err := c.GetProjectSurvey(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return matchAnswers(parseSurvey(doc), texts), nil
}

func matchAnswers(s survey, texts []string) map[string]AnswerMatch {
	out := make(map[string]AnswerMatch, len(texts))
	for _, t := range texts {
		if a, ok := s.find(t); ok {
			out[t] = AnswerMatch{ID: a.id, Text: a.text, Question: a.question, Section: a.section, Found: true}
		} else {
			out[t] = AnswerMatch{}
		}
	}
	return out
}

// SelectedAnswers describes the answers currently selected for a project in
// one of the summary, detailed or grouped formats.
func (c *Client) SelectedAnswers(ctx context.Context, projectID int, format string) (map[string]any, error) {
	if format == "" {
		format = AnswersSummary
	}
	switch format {
	case AnswersSummary, AnswersDetailed, AnswersGrouped:
	default:
		return nil, fmt.Errorf("sde: unknown answer format %q", format)
	}

	doc, err := c.GetProjectSurvey(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s := parseSurvey(doc)
	if len(s.selected) == 0 {
		return map[string]any{
			"project_id":   projectID,
			"message":      "No answers are currently assigned to this survey",
			"answer_count": 0,
		}, nil
	}

	index := s.byID()
	out := map[string]any{"project_id": projectID, "answer_count": len(s.selected)}
	switch format {
	case AnswersSummary:
		texts := []string{}
		for _, id := range s.selected {
			if a, ok := index[id]; ok {
				texts = append(texts, a.text)
			}
		}
		out["answers"] = texts
		out["answer_ids"] = s.selected
	case AnswersDetailed:
		details := []map[string]any{}
		for _, id := range s.selected {
			if a, ok := index[id]; ok {
				details = append(details, map[string]any{"text": a.text, "question": a.question, "answer_id": id})
			}
		}
		out["answers"] = details
	case AnswersGrouped:
		grouped := map[string][]map[string]any{}
		for _, id := range s.selected {
			if a, ok := index[id]; ok {
				grouped[a.section] = append(grouped[a.section], map[string]any{"question": a.question, "answer": a.text})
			}
		}
		out["sections"] = grouped
	}
	return out, nil
}

// SetSurveyAnswersByText replaces all selected answers with those matching
// texts. Nothing is changed if any text has no match.
func (c *Client) SetSurveyAnswersByText(ctx context.Context, projectID int, texts []string, complete *bool) (map[string]any, error) {
	doc, err := c.GetProjectSurvey(ctx, projectID)
	if err != nil {
		return nil, err
	}
	matches := matchAnswers(parseSurvey(doc), texts)
	ids, missing := split(texts, matches)
	if len(missing) > 0 {
		return map[string]any{
			"error":          "Could not find answers for: " + strings.Join(missing, ", "),
			"search_results": matches,
		}, nil
	}

	res, err := c.UpdateProjectSurvey(ctx, projectID, ids, complete)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":         true,
		"matched_answers": matches,
		"answer_ids_used": ids,
		"update_result":   res,
	}, nil
}

// AddSurveyAnswersByText adds the answers matching texts to the current
// selection.
func (c *Client) AddSurveyAnswersByText(ctx context.Context, projectID int, texts []string) (map[string]any, error) {
	doc, err := c.GetProjectSurvey(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s := parseSurvey(doc)
	matches := matchAnswers(s, texts)
	ids, missing := split(texts, matches)

	current := make(map[string]bool, len(s.selected))
	for _, id := range s.selected {
		current[id] = true
	}
	next := append([]string(nil), s.selected...)
	added := []string{}
	for _, id := range ids {
		if !current[id] {
			current[id] = true
			next = append(next, id)
			added = append(added, id)
		}
	}

	out := map[string]any{
		"matched_answers": matches,
		"ids_added":       added,
		"not_found":       nonNil(missing),
		"answer_count":    len(next),
	}
	if len(added) == 0 {
		out["success"] = len(missing) == 0
		out["message"] = "No new answers to add"
		return out, nil
	}
	res, err := c.UpdateProjectSurvey(ctx, projectID, next, nil)
	if err != nil {
		return nil, err
	}
	out["success"] = true
	out["update_result"] = res
	return out, nil
}

// RemoveSurveyAnswersByText removes the answers matching texts from the
// current selection.
func (c *Client) RemoveSurveyAnswersByText(ctx context.Context, projectID int, texts []string) (map[string]any, error) {
	doc, err := c.GetProjectSurvey(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s := parseSurvey(doc)
	matches := matchAnswers(s, texts)
	ids, missing := split(texts, matches)

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	remaining := []string{}
	for _, id := range s.selected {
		if !drop[id] {
			remaining = append(remaining, id)
		}
	}

	res, err := c.UpdateProjectSurvey(ctx, projectID, remaining, nil)
	if err != nil {
		return nil, err
	}
	removed := map[string]AnswerMatch{}
	for t, m := range matches {
		if m.Found {
			removed[t] = m
		}
	}
	return map[string]any{
		"success":                true,
		"removed_answers":        removed,
		"ids_removed":            nonNil(ids),
		"not_found":              nonNil(missing),
		"remaining_answer_count": len(remaining),
		"update_result":          res,
	}, nil
}

// split returns matched ids in text order, deduplicated, and the texts with
// no match.
func split(texts []string, matches map[string]AnswerMatch) (ids, missing []string) {
	seen := map[string]bool{}
	for _, t := range texts {
		m := matches[t]
		if !m.Found {
			missing = append(missing, t)
			continue
		}
		if !seen[m.ID] {
			seen[m.ID] = true
			ids = append(ids, m.ID)
		}
	}
	return ids, missing
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
