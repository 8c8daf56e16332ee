package telegram

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "kolwatch/internal/transport"
	logx "kolwatch/pkg/logx"
)

type Config struct {
	Token string
	// DefaultChat is the channel/chat notifications go to: a numeric chat id
	// or an "@channelname".
	DefaultChat string
	// ClientTimeout bounds each Bot API call.
	ClientTimeout time.Duration
}

// Adapter is a send-only Telegram transport on top of telebot.
// The bot never long-polls for updates; it only pushes messages out.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	defaultTo kit.ChatTarget
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.ClientTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	// No Poller: the bot is send-only. NewBot still validates the token via getMe.
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	a.defaultTo = ParseChat(cfg.DefaultChat)
	return a, nil
}

// DefaultTarget returns the configured destination chat.
func (a *Adapter) DefaultTarget() kit.ChatTarget { return a.defaultTo }

// ParseChat turns a config string into a ChatTarget.
// Accepts "-1001234567890" style ids and "@channelname".
func ParseChat(s string) kit.ChatTarget {
	s = strings.TrimSpace(s)
	if s == "" {
		return kit.ChatTarget{}
	}
	if strings.HasPrefix(s, "@") {
		return kit.ChatTarget{Username: s}
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return kit.ChatTarget{ChatID: id}
	}
	return kit.ChatTarget{Username: "@" + s}
}

// recipient adapts a raw id/username string to telebot's Recipient.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func toRecipient(to kit.ChatTarget) tele.Recipient {
	if to.Username != "" {
		return recipient(to.Username)
	}
	return recipient(strconv.FormatInt(to.ChatID, 10))
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		// Skip leading newlines to avoid empty chunks.
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if to.IsZero() {
		to = a.defaultTo
	}
	if to.IsZero() {
		return kit.MessageRef{}, errors.New("no destination chat configured")
	}

	chunks := splitText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	rcpt := toRecipient(to)

	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				if first.MessageID != 0 {
					return first, ctx.Err()
				}
				return kit.MessageRef{}, ctx.Err()
			default:
			}
		}

		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}

		msg, err := a.bot.Send(rcpt, chunk, sendOpt)
		if err != nil {
			if first.MessageID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}

		if i == 0 {
			first = kit.MessageRef{ChatID: msg.Chat.ID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}

	return first, nil
}

// SendPlain satisfies logx.TelegramSender: best-effort delivery of a log line
// to the default chat, previews off.
func (a *Adapter) SendPlain(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := a.SendText(ctx, a.defaultTo, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (a *Adapter) Stop(ctx context.Context) error {
	// No poller to stop; telebot keeps no other background state for send-only use.
	_ = ctx
	return nil
}
