package classify

import (
	"encoding/json"
	"fmt"

	"ghwatch/internal/feed"
	"ghwatch/internal/notification"
)

const fieldCap = 128

var (
	colorPush          = notification.MustColor("#0099ff")
	colorCreateRepo    = notification.MustColor("#00ff55")
	colorCreateBranch  = notification.MustColor("#00ffa6")
	colorIssueOpened   = notification.MustColor("#9900ff")
	colorIssueClosed   = notification.MustColor("#ff0048")
	colorIssueReopened = notification.MustColor("#ff00ea")
	colorIssueComment  = notification.MustColor("#ff00c8")
	colorFork          = notification.MustColor("#f2ff00")
	colorWatch         = notification.MustColor("#7a2d00")
)

type pushPayload struct {
	Commits []struct {
		SHA     string `json:"sha"`
		Message string `json:"message"`
	} `json:"commits"`
}

type createPayload struct {
	Ref     string `json:"ref"`
	RefType string `json:"ref_type"`
}

type issue struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

type issuesPayload struct {
	Action string `json:"action"`
	Issue  issue  `json:"issue"`
}

type issueCommentPayload struct {
	Issue   issue `json:"issue"`
	Comment struct {
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
	} `json:"comment"`
}

type forkPayload struct {
	Forkee struct {
		FullName string `json:"full_name"`
	} `json:"forkee"`
}

// DefaultRules returns the built-in rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "push", Match: isType(feed.TypePush), Convert: convertPush},
		{Name: "create-repository", Match: isCreate("repository"), Convert: convertCreateRepository},
		{Name: "create-branch", Match: isCreate("branch"), Convert: convertCreateBranch},
		{Name: "issue-opened", Match: isIssueAction("opened"), Convert: convertIssue(colorIssueOpened, "New issue in repository %s was opened!", true)},
		{Name: "issue-closed", Match: isIssueAction("closed"), Convert: convertIssue(colorIssueClosed, "Issue in repository %s was closed!", false)},
		{Name: "issue-reopened", Match: isIssueAction("reopened"), Convert: convertIssue(colorIssueReopened, "Issue in repository %s was reopened!", false)},
		{Name: "issue-comment", Match: isType(feed.TypeIssueComment), Convert: convertIssueComment},
		{Name: "fork", Match: isType(feed.TypeFork), Convert: convertFork},
		{Name: "watch", Match: isType(feed.TypeWatch), Convert: convertWatch},
	}
}

func isType(t string) func(*feed.Event) bool {
	return func(ev *feed.Event) bool { return ev.Type == t }
}

func isCreate(refType string) func(*feed.Event) bool {
	return func(ev *feed.Event) bool {
		if ev.Type != feed.TypeCreate {
			return false
		}
		var p createPayload
		return decode(ev, &p) == nil && p.RefType == refType
	}
}

func isIssueAction(action string) func(*feed.Event) bool {
	return func(ev *feed.Event) bool {
		if ev.Type != feed.TypeIssues {
			return false
		}
		var p issuesPayload
		return decode(ev, &p) == nil && p.Action == action
	}
}

func decode(ev *feed.Event, v any) error {
	if len(ev.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", ev.Type, err)
	}
	return nil
}

func repoURL(ev *feed.Event) string { return "https://github.com/" + ev.Repo.Name + "/" }

// base fills the fields every notification shares.
func base(ev *feed.Event, title, description, url string, color uint32) notification.Payload {
	return notification.Payload{
		Title:       title,
		Description: description,
		URL:         url,
		Color:       color,
		AuthorName:  ev.Actor.Login,
		AuthorURL:   "https://github.com/" + ev.Actor.Login + "/",
		AuthorIcon:  ev.Actor.AvatarURL,
		Timestamp:   ev.CreatedAt,
	}
}

func convertPush(ev *feed.Event) ([]notification.Payload, error) {
	var p pushPayload
	if err := decode(ev, &p); err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("New commit in repository %s was created!", ev.Repo.Name)
	out := make([]notification.Payload, 0, len(p.Commits))
	for _, c := range p.Commits {
		out = append(out, base(ev, c.Message, desc, repoURL(ev), colorPush))
	}
	return out, nil
}

func convertCreateRepository(ev *feed.Event) ([]notification.Payload, error) {
	return []notification.Payload{base(ev, ev.Repo.Name, "New repository was created!", repoURL(ev), colorCreateRepo)}, nil
}

func convertCreateBranch(ev *feed.Event) ([]notification.Payload, error) {
	var p createPayload
	if err := decode(ev, &p); err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("New branch in repository %s was created!", ev.Repo.Name)
	return []notification.Payload{base(ev, p.Ref, desc, repoURL(ev), colorCreateBranch)}, nil
}

func convertIssue(color uint32, format string, withBody bool) func(*feed.Event) ([]notification.Payload, error) {
	return func(ev *feed.Event) ([]notification.Payload, error) {
		var p issuesPayload
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		n := base(ev, p.Issue.Title, fmt.Sprintf(format, ev.Repo.Name), p.Issue.HTMLURL, color)
		if withBody {
			n.Fields = []notification.Field{{Name: "Issue Content", Value: Truncate(p.Issue.Body, fieldCap)}}
		}
		return []notification.Payload{n}, nil
	}
}

func convertIssueComment(ev *feed.Event) ([]notification.Payload, error) {
	var p issueCommentPayload
	if err := decode(ev, &p); err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("New comment was added to issue in repository %s!", ev.Repo.Name)
	n := base(ev, p.Issue.Title, desc, p.Comment.HTMLURL, colorIssueComment)
	n.Fields = []notification.Field{{Name: "Comment Text", Value: Truncate(p.Comment.Body, fieldCap)}}
	return []notification.Payload{n}, nil
}

func convertFork(ev *feed.Event) ([]notification.Payload, error) {
	var p forkPayload
	if err := decode(ev, &p); err != nil {
		return nil, err
	}
	forkee := p.Forkee.FullName
	desc := fmt.Sprintf("The repository %s was forked into %s!", ev.Repo.Name, forkee)
	return []notification.Payload{base(ev, forkee, desc, "https://github.com/"+forkee, colorFork)}, nil
}

func convertWatch(ev *feed.Event) ([]notification.Payload, error) {
	desc := fmt.Sprintf("%s started stargazing the %s repository!", ev.Actor.Login, ev.Repo.Name)
	return []notification.Payload{base(ev, ev.Repo.Name, desc, repoURL(ev), colorWatch)}, nil
}
