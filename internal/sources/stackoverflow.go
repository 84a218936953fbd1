package sources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/textube/backend/internal/urlnorm"
	"go.uber.org/zap"
)

const (
	defaultStackExchangeBaseURL = "https://api.stackexchange.com"
	stackExchangeSite           = "stackoverflow"
)

var questionIDPattern = regexp.MustCompile(`/questions/(\d+)`)

// StackOverflowConfig configures the Stack Exchange API adapter.
type StackOverflowConfig struct {
	ClientConfig
	BaseURL string
}

// StackOverflow fetches a question and its accepted answer from the Stack Exchange API.
type StackOverflow struct {
	client  *apiClient
	baseURL string
}

// NewStackOverflow creates a StackOverflow adapter.
func NewStackOverflow(cfg StackOverflowConfig) *StackOverflow {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultStackExchangeBaseURL
	}
	return &StackOverflow{
		client:  newAPIClient(cfg.ClientConfig),
		baseURL: baseURL,
	}
}

func (s *StackOverflow) SourceType() urlnorm.SourceType { return urlnorm.SourceStackOverflow }

func (s *StackOverflow) ExtractExternalID(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	match := questionIDPattern.FindStringSubmatch(parsed.Path)
	if match == nil {
		return "", false
	}
	return match[1], true
}

func (s *StackOverflow) FetchContent(ctx context.Context, rawURL string) (FetchedContent, error) {
	questionID, ok := s.ExtractExternalID(rawURL)
	if !ok {
		return FetchedContent{}, fmt.Errorf("%w: no stackoverflow question id in %q", ErrInvalidSource, rawURL)
	}

	var questions seQuestionResponse
	if err := s.client.getJSON(ctx, s.endpoint("questions", questionID), &questions); err != nil {
		return FetchedContent{}, fmt.Errorf("fetch stackoverflow question %s: %w", questionID, err)
	}
	if len(questions.Items) == 0 {
		return FetchedContent{}, fmt.Errorf("%w: stackoverflow question %s", ErrContentNotFound, questionID)
	}
	question := questions.Items[0]

	var acceptedAnswer map[string]any
	if question.AcceptedAnswerID > 0 {
		answer, err := s.fetchAnswer(ctx, int64(question.AcceptedAnswerID))
		if err != nil {
			s.client.logger.Warn("accepted answer fetch failed",
				zap.String("question_id", questionID),
				zap.Int64("answer_id", int64(question.AcceptedAnswerID)),
				zap.Error(err))
		} else if answer != nil {
			acceptedAnswer = map[string]any{
				"body":  answer.Body,
				"score": int64(answer.Score),
			}
		}
	}

	tags := question.Tags
	if tags == nil {
		tags = []string{}
	}

	var acceptedAnswerID any
	if question.AcceptedAnswerID > 0 {
		acceptedAnswerID = int64(question.AcceptedAnswerID)
	}

	metadata := map[string]any{
		"questionId":       int64(question.QuestionID),
		"tags":             tags,
		"viewCount":        int64(question.ViewCount),
		"score":            int64(question.Score),
		"answerCount":      int64(question.AnswerCount),
		"acceptedAnswerId": acceptedAnswerID,
		"acceptedAnswer":   nil,
		"bodyText":         htmlToText(question.Body),
	}
	if acceptedAnswer != nil {
		metadata["acceptedAnswer"] = acceptedAnswer
	}

	return FetchedContent{
		Title:    question.Title,
		Body:     question.Body,
		Metadata: metadata,
		Engagement: EngagementSignals{
			Views:    question.ViewCount.ptr(),
			Upvotes:  question.Score.ptr(),
			Comments: question.CommentCount.ptr(),
		},
	}, nil
}

func (s *StackOverflow) fetchAnswer(ctx context.Context, answerID int64) (*seAnswer, error) {
	var answers seAnswerResponse
	if err := s.client.getJSON(ctx, s.endpoint("answers", fmt.Sprintf("%d", answerID)), &answers); err != nil {
		return nil, err
	}
	if len(answers.Items) == 0 {
		return nil, nil
	}
	return &answers.Items[0], nil
}

func (s *StackOverflow) endpoint(resource, id string) string {
	params := url.Values{}
	params.Set("site", stackExchangeSite)
	params.Set("filter", "withbody")
	return fmt.Sprintf("%s/2.3/%s/%s?%s", s.baseURL, resource, url.PathEscape(id), params.Encode())
}

// htmlToText flattens an HTML fragment into whitespace-normalized text.
func htmlToText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

type seQuestionResponse struct {
	Items []seQuestion `json:"items"`
}

type seQuestion struct {
	QuestionID       flexInt  `json:"question_id"`
	Title            string   `json:"title"`
	Body             string   `json:"body"`
	Tags             []string `json:"tags"`
	ViewCount        flexInt  `json:"view_count"`
	Score            flexInt  `json:"score"`
	AnswerCount      flexInt  `json:"answer_count"`
	CommentCount     flexInt  `json:"comment_count"`
	AcceptedAnswerID flexInt  `json:"accepted_answer_id"`
}

type seAnswerResponse struct {
	Items []seAnswer `json:"items"`
}

type seAnswer struct {
	AnswerID flexInt `json:"answer_id"`
	Body     string  `json:"body"`
	Score    flexInt `json:"score"`
}
