// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/indexwatch/internal/logger"
	"github.com/rewired-gh/indexwatch/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	names          map[string]string
}

// SnapshotSource returns the most recent snapshot of every index.
type SnapshotSource interface {
	LatestSnapshots(ctx context.Context) ([]models.IndicatorSnapshot, error)
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SetIndexNames sets the display names used in messages, keyed by index code.
func (c *Client) SetIndexNames(names map[string]string) {
	c.names = names
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, source SnapshotSource) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message, source)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message, source SnapshotSource) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "latest":
		text := "No snapshots yet"
		snaps, err := source.LatestSnapshots(ctx)
		switch {
		case err != nil:
			logger.Warn("Failed to load snapshots for /latest: %v", err)
			text = "Failed to load snapshots"
		case len(snaps) > 0:
			text = c.formatDigest(snaps, nil)
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, text)
		if len(snaps) > 0 && err == nil {
			reply.ParseMode = "MarkdownV2"
		}
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a run error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(runErr error) error {
	text := fmt.Sprintf("⚠️ *Run error*\n`%s`", escapeMarkdownV2(runErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Runs recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendDigest sends the snapshots of a run, followed by the indices that failed.
func (c *Client) SendDigest(snaps []models.IndicatorSnapshot, failures map[string]error) error {
	return c.sendMarkdownV2(c.formatDigest(snaps, failures))
}

var zoneEmoji = map[string]string{
	models.ZoneUndervalued: "🟢",
	models.ZoneFair:        "🟡",
	models.ZoneOvervalued:  "🔴",
}

// formatDigest formats snapshots into a Telegram MarkdownV2 message.
func (c *Client) formatDigest(snaps []models.IndicatorSnapshot, failures map[string]error) string {
	var b strings.Builder
	b.WriteString("📊 *Valuation digest*\n")

	var asOf time.Time
	for _, s := range snaps {
		if s.AsOf.After(asOf) {
			asOf = s.AsOf
		}
	}
	if !asOf.IsZero() {
		fmt.Fprintf(&b, "📅 As of: %s\n", escapeMarkdownV2(asOf.Format(models.DateLayout)))
	}
	b.WriteString("\n")

	for i, s := range snaps {
		name := s.IndexID
		if n, ok := c.names[s.IndexID]; ok && n != "" {
			name = n
		}
		fmt.Fprintf(&b, "%d\\. *%s* \\(%s\\)\n", i+1, escapeMarkdownV2(name), escapeMarkdownV2(s.IndexID))

		emoji, ok := zoneEmoji[s.Zone]
		if !ok {
			emoji = "⚪"
		}
		parts := []string{}
		if s.Zone != "" {
			parts = append(parts, s.Zone)
		}
		if s.PrimaryMetric != "" && s.LatestValue != nil {
			parts = append(parts, fmt.Sprintf("%s %.2f", strings.ToUpper(s.PrimaryMetric), *s.LatestValue))
		}
		if s.PercentileRank != nil {
			parts = append(parts, fmt.Sprintf("pct %.1f%%", *s.PercentileRank))
		}
		if len(parts) == 0 {
			parts = append(parts, "no valuation data")
		}
		fmt.Fprintf(&b, "   %s %s\n", emoji, escapeMarkdownV2(strings.Join(parts, " · ")))

		if s.Drawdown != nil {
			fmt.Fprintf(&b, "   📉 drawdown %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", *s.Drawdown*100)))
		}
		b.WriteString("\n")
	}

	if len(failures) > 0 {
		codes := make([]string, 0, len(failures))
		for code := range failures {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		fmt.Fprintf(&b, "⚠️ Failed: %s\n", escapeMarkdownV2(strings.Join(codes, ", ")))
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
