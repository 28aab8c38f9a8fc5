package bot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"linkvault/internal/collections"
	"linkvault/internal/domain"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// extractURL returns the first http(s) URL in text, or "".
func extractURL(text string) string {
	return urlPattern.FindString(text)
}

var errUsage = errors.New("usage")

// commandArgs returns the words after the command.
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return fields[1:]
}

// parseCollectionID parses "/delete <id>".
func parseCollectionID(text string) (int64, error) {
	args := commandArgs(text)
	if len(args) != 1 {
		return 0, errUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not a collection id", domain.ErrInvalidArgument, args[0])
	}
	return id, nil
}

// parseNewCollection parses "/new <name> [parentID]". A trailing number is
// taken as the parent id; names may contain spaces.
func parseNewCollection(text string) (string, *int64, error) {
	args := commandArgs(text)
	if len(args) == 0 {
		return "", nil, errUsage
	}

	var parent *int64
	if len(args) > 1 {
		if id, err := strconv.ParseInt(args[len(args)-1], 10, 64); err == nil {
			if id <= 0 {
				return "", nil, fmt.Errorf("%w: parent id must be positive", domain.ErrInvalidArgument)
			}
			parent = &id
			args = args[:len(args)-1]
		}
	}
	return strings.Join(args, " "), parent, nil
}

// deleteReply renders the outcome of a deletion for the chat.
func deleteReply(collectionID int64, res *collections.DeleteResult, err error) string {
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			return "Usage: /delete <collection id>"
		case errors.Is(err, domain.ErrNotAccessible):
			return fmt.Sprintf("Collection %d does not exist or you have no access to it.", collectionID)
		case errors.Is(err, domain.ErrBusy):
			return fmt.Sprintf("Collection %d is being changed right now, try again in a moment.", collectionID)
		default:
			return "Something went wrong, the collection was not deleted."
		}
	}
	if res.Relation != nil {
		return fmt.Sprintf("You left collection %d.", res.Relation.CollectionID)
	}
	return fmt.Sprintf("Deleted collection %q and everything in it.", res.Collection.Name)
}

func formatCollections(cols []domain.Collection) string {
	if len(cols) == 0 {
		return "You have no collections yet. Send me a link or use /new <name>."
	}
	var b strings.Builder
	b.WriteString("Your collections:\n")
	for _, c := range cols {
		fmt.Fprintf(&b, "%d. %s", c.ID, c.Name)
		if c.ParentID != nil {
			fmt.Fprintf(&b, " (in %d)", *c.ParentID)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatLinks(links []domain.Link) string {
	if len(links) == 0 {
		return "No matching links."
	}
	var b strings.Builder
	for i, l := range links {
		title := l.Title
		if title == "" {
			title = l.URL
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, title, l.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
