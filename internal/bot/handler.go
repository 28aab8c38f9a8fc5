package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"linkvault/internal/collections"
	"linkvault/internal/config"
	"linkvault/internal/domain"
)

const searchLimit = 10

// Deleter is the deletion entry point the bot calls.
type Deleter interface {
	DeleteCollection(ctx context.Context, userID, collectionID int64) (*collections.DeleteResult, error)
}

// Handler holds dependencies for the Telegram bot handlers.
type Handler struct {
	bot     *tgbot.Bot
	library *Library
	deleter Deleter
	log     logrus.FieldLogger
}

// NewHandler creates a new bot handler instance.
func NewHandler(cfg config.Config, library *Library, deleter Deleter, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")

	h := &Handler{
		library: library,
		deleter: deleter,
		log:     log,
	}

	b, err := tgbot.New(cfg.TelegramBotToken, tgbot.WithDefaultHandler(h.defaultHandler))
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	h.bot = b

	h.registerHandlers()

	log.Info("Telegram bot handler initialized")
	return h, nil
}

// registerHandlers sets up the command handlers.
func (h *Handler) registerHandlers() {
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.startHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/new", tgbot.MatchTypePrefix, h.newHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/collections", tgbot.MatchTypeExact, h.collectionsHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/delete", tgbot.MatchTypePrefix, h.deleteHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/search", tgbot.MatchTypePrefix, h.searchHandler)
	h.log.Info("Registered command handlers")
}

// Start begins polling for updates from Telegram.
// This function blocks until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped.")
}

func (h *Handler) reply(ctx context.Context, b *tgbot.Bot, update *models.Update, text string) {
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
	})
	if err != nil {
		h.log.WithError(err).WithField("chat_id", update.Message.Chat.ID).Error("Failed to send message")
	}
}

func (h *Handler) commandLog(update *models.Update, command string) logrus.FieldLogger {
	return h.log.WithFields(logrus.Fields{
		"user_id": update.Message.From.ID,
		"command": command,
	})
}

func (h *Handler) startHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	h.commandLog(update, "/start").Info("Received /start command")
	h.reply(ctx, b, update, "Welcome to LinkVault! Send me a link and I'll save and archive it.\n\n"+
		"/new <name> [parent id] creates a collection\n"+
		"/collections lists your collections\n"+
		"/delete <id> deletes a collection you own, or leaves one shared with you\n"+
		"/search <words> searches your links")
}

func (h *Handler) newHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.commandLog(update, "/new")
	name, parent, err := parseNewCollection(update.Message.Text)
	if err != nil {
		h.reply(ctx, b, update, "Usage: /new <name> [parent id]")
		return
	}

	c, err := h.library.CreateCollection(ctx, update.Message.From.ID, name, parent)
	if err != nil {
		if errors.Is(err, domain.ErrNotAccessible) {
			h.reply(ctx, b, update, "The parent collection does not exist or is not yours.")
			return
		}
		log.WithError(err).Error("Failed to create collection")
		h.reply(ctx, b, update, "Sorry, I could not create the collection.")
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf("Created collection %d. %s", c.ID, c.Name))
}

func (h *Handler) collectionsHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.commandLog(update, "/collections")
	cols, err := h.library.Collections(ctx, update.Message.From.ID)
	if err != nil {
		log.WithError(err).Error("Failed to list collections")
		h.reply(ctx, b, update, "Sorry, I could not load your collections.")
		return
	}
	h.reply(ctx, b, update, formatCollections(cols))
}

func (h *Handler) deleteHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.commandLog(update, "/delete")
	id, err := parseCollectionID(update.Message.Text)
	if err != nil {
		h.reply(ctx, b, update, "Usage: /delete <collection id>")
		return
	}

	res, err := h.deleter.DeleteCollection(ctx, update.Message.From.ID, id)
	if err != nil {
		log.WithError(err).WithField("status", domain.StatusCode(err)).Warn("Delete request failed")
	}
	h.reply(ctx, b, update, deleteReply(id, res, err))
}

func (h *Handler) searchHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.commandLog(update, "/search")
	query := strings.Join(commandArgs(update.Message.Text), " ")
	if query == "" {
		h.reply(ctx, b, update, "Usage: /search <words>")
		return
	}

	links, err := h.library.Search(ctx, update.Message.From.ID, query, searchLimit)
	if err != nil {
		log.WithError(err).Error("Search failed")
		h.reply(ctx, b, update, "Sorry, search is unavailable right now.")
		return
	}
	h.reply(ctx, b, update, formatLinks(links))
}

// defaultHandler saves the first URL of any other message.
func (h *Handler) defaultHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	log := h.log.WithField("user_id", update.Message.From.ID)

	url := extractURL(update.Message.Text)
	if url == "" {
		log.Debug("Received message without a URL")
		h.reply(ctx, b, update, "Send me a link to save, or use /start to see the commands.")
		return
	}

	link, err := h.library.SaveURL(ctx, update.Message.From.ID, url)
	if err != nil {
		log.WithError(err).Error("Failed to save URL")
		h.reply(ctx, b, update, "Sorry, I could not save that link.")
		return
	}
	h.library.ArchiveAsync(*link)
	h.reply(ctx, b, update, fmt.Sprintf("Saved to %s. I'm archiving the page now.", UnorganizedName))
}
