package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/referral"
	"github.com/digkill/TGFittingBot/internal/service"
)

const (
	maxReferenceImages = 4
	buyCallbackPrefix  = "buy:"
)

var errReferenceNotImage = errors.New("reference not image")

type ImageStorage interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type Services struct {
	Users      *service.UserService
	Generation *service.GenerationService
	Promos     *service.PromoService
	Payments   *service.PaymentService
	Tariffs    *service.TariffService
	Referrals  *referral.Service
}

type Bot struct {
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	svc        Services
	storage    ImageStorage
	state      *StateManager
	httpClient *http.Client
}

// NewBot wires the Telegram front end. storage may be nil, in which case
// reference photos are rejected with a hint.
func NewBot(api *tgbotapi.BotAPI, svc Services, storage ImageStorage, log *slog.Logger) *Bot {
	return &Bot{
		api:        api,
		log:        log,
		svc:        svc,
		storage:    storage,
		state:      NewStateManager(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			switch {
			case update.Message != nil:
				b.handleMessage(ctx, update.Message)
			case update.CallbackQuery != nil:
				b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if len(msg.Photo) > 0 || msg.Document != nil {
		if err := b.handleReferenceImage(ctx, msg); err != nil {
			if errors.Is(err, errReferenceNotImage) {
				b.sendText(msg.Chat.ID, "Это не изображение. Пришлите фото или картинку.")
			} else {
				b.log.Error("reference upload failed", "err", err)
				b.sendText(msg.Chat.ID, "Не удалось сохранить фото, попробуйте снова.")
			}
		}
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	switch b.state.Get(msg.Chat.ID).State {
	case StateAwaitingPrompt:
		b.handlePrompt(ctx, msg)
	default:
		b.sendText(msg.Chat.ID, "Нажмите /generate, чтобы начать примерку.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	user, created, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user", "command", msg.Command(), "err", err)
		b.sendText(msg.Chat.ID, "Сервис временно недоступен, попробуйте позже.")
		return
	}

	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg, user, created)
	case "generate":
		b.state.SetState(msg.Chat.ID, StateAwaitingPrompt)
		b.sendText(msg.Chat.ID, fmt.Sprintf("Пришлите своё фото и фото вещи (до %d изображений), затем опишите, что примерить.", maxReferenceImages))
	case "clearrefs":
		b.state.ClearReferences(msg.Chat.ID)
		b.sendText(msg.Chat.ID, "Фото очищены.")
	case "balance":
		view, err := b.svc.Users.Entitlement(ctx, user.ID)
		if err != nil {
			b.log.Error("entitlement", "user_id", user.ID, "err", err)
			b.sendText(msg.Chat.ID, "Не удалось получить баланс, попробуйте позже.")
			return
		}
		b.sendText(msg.Chat.ID, balanceText(view))
	case "buy":
		b.handleBuy(ctx, msg.Chat.ID)
	case "promo":
		b.handlePromo(ctx, msg, user)
	case "referral":
		b.handleReferral(ctx, msg.Chat.ID, user)
	default:
		b.sendText(msg.Chat.ID, "Неизвестная команда. Используйте /generate.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message, user *models.User, created bool) {
	if _, err := b.svc.Users.ApplyStartPayload(ctx, user, created, msg.CommandArguments()); err != nil {
		switch {
		case errors.Is(err, referral.ErrUnknownCode), errors.Is(err, referral.ErrSelfReferral), errors.Is(err, referral.ErrAlreadyReferred):
			b.log.Info("referral not registered", "user_id", user.ID, "reason", err)
		default:
			b.log.Error("register referral", "user_id", user.ID, "err", err)
		}
	}
	b.sendText(msg.Chat.ID, startText(user.FirstName))
}

func (b *Bot) handleBuy(ctx context.Context, chatID int64) {
	tariffs, err := b.svc.Tariffs.ListActive(ctx)
	if err != nil {
		b.log.Error("list tariffs", "err", err)
		b.sendText(chatID, "Не удалось загрузить тарифы. Попробуйте позже.")
		return
	}
	if len(tariffs) == 0 {
		b.sendText(chatID, "Сейчас нет доступных тарифов.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, "Выберите тариф:")
	msg.ReplyMarkup = tariffKeyboard(tariffs)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send tariffs", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	code, ok := strings.CutPrefix(cb.Data, buyCallbackPrefix)
	if !ok {
		b.answerCallback(cb.ID, "Неизвестный выбор")
		return
	}
	b.answerCallback(cb.ID, "Создаю платёж…")

	user, _, err := b.ensureUser(ctx, cb.From, chatID)
	if err != nil {
		b.log.Error("ensure user buy", "err", err)
		return
	}
	p, err := b.svc.Payments.CreatePayment(ctx, user, code)
	if err != nil {
		if errors.Is(err, service.ErrTariffNotFound) {
			b.sendText(chatID, "Тариф больше недоступен, выберите другой: /buy")
			return
		}
		b.log.Error("create payment", "user_id", user.ID, "tariff", code, "err", err)
		b.sendText(chatID, "Не удалось создать платёж. Попробуйте позже.")
		return
	}
	b.sendText(chatID, paymentText(p))
}

func (b *Bot) handlePromo(ctx context.Context, msg *tgbotapi.Message, user *models.User) {
	code := strings.TrimSpace(msg.CommandArguments())
	if code == "" {
		b.sendText(msg.Chat.ID, "Формат: /promo КОД")
		return
	}
	res, err := b.svc.Promos.Redeem(ctx, user.ID, code)
	switch {
	case err == nil:
		b.sendText(msg.Chat.ID, fmt.Sprintf("Промокод активирован! +%d кредитов. Баланс: %d.", res.CreditsAwarded, res.BalanceAfter))
	case errors.Is(err, service.ErrPromoInvalid):
		b.sendText(msg.Chat.ID, "Промокод недействителен.")
	case errors.Is(err, service.ErrPromoExhausted):
		b.sendText(msg.Chat.ID, "Лимит активаций промокода исчерпан.")
	case errors.Is(err, service.ErrPromoAlreadyRedeemed):
		b.sendText(msg.Chat.ID, "Этот промокод уже использован.")
	default:
		b.log.Error("redeem promo", "user_id", user.ID, "err", err)
		b.sendText(msg.Chat.ID, "Не удалось применить промокод, попробуйте позже.")
	}
}

func (b *Bot) handleReferral(ctx context.Context, chatID int64, user *models.User) {
	stats, err := b.svc.Referrals.Stats(ctx, user.ID)
	if err != nil {
		b.log.Error("referral stats", "user_id", user.ID, "err", err)
		b.sendText(chatID, "Не удалось получить статистику, попробуйте позже.")
		return
	}
	b.sendText(chatID, referralText(b.api.Self.UserName, user.ReferralCode, stats))
}

func (b *Bot) handlePrompt(ctx context.Context, msg *tgbotapi.Message) {
	prompt := strings.TrimSpace(msg.Text)
	if prompt == "" {
		b.sendText(msg.Chat.ID, "Описание не может быть пустым.")
		return
	}
	user, _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user prompt", "err", err)
		return
	}

	session := b.state.Get(msg.Chat.ID)
	b.sendText(msg.Chat.ID, "Генерация началась, это может занять до пары минут.")

	res, err := b.svc.Generation.Generate(ctx, user.ID, service.GenerationRequest{
		Prompt:      prompt,
		AspectRatio: session.AspectRatio,
		Resolution:  session.Resolution,
		InputURLs:   session.ReferenceURLs,
	})
	if err != nil {
		var insufficient *entitlement.InsufficientError
		switch {
		case errors.As(err, &insufficient):
			b.sendText(msg.Chat.ID, denialText(insufficient))
		case errors.Is(err, service.ErrGenerationFailed):
			b.sendText(msg.Chat.ID, "Не удалось сгенерировать изображение. Кредиты не списаны, попробуйте ещё раз.")
		default:
			b.log.Error("generate", "user_id", user.ID, "err", err)
			b.sendText(msg.Chat.ID, "Сервис временно недоступен, попробуйте позже.")
		}
		return
	}

	photo := tgbotapi.NewPhoto(msg.Chat.ID, tgbotapi.FileURL(res.ImageURL))
	photo.Caption = resultCaption(res)
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send image", "generation_id", res.GenerationID, "err", err)
	}
	b.state.Reset(msg.Chat.ID)

	if res.Referral.Awarded {
		b.notifyReferrer(ctx, res.Referral)
	}
}

func (b *Bot) notifyReferrer(ctx context.Context, award referral.AwardResult) {
	referrer, err := b.svc.Users.Get(ctx, award.ReferrerID)
	if err != nil {
		b.log.Error("load referrer", "referrer_id", award.ReferrerID, "err", err)
		return
	}
	b.sendText(referrer.TelegramID, fmt.Sprintf("Ваш друг сделал первую примерку! +%d кредитов.", award.Credits))
}

func (b *Bot) handleReferenceImage(ctx context.Context, msg *tgbotapi.Message) error {
	if b.storage == nil {
		b.sendText(msg.Chat.ID, "Загрузка фото сейчас недоступна. Опишите образ текстом.")
		return nil
	}

	var fileID string
	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return errReferenceNotImage
		}
		fileID = msg.Document.FileID
	default:
		return nil
	}

	data, contentType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return err
	}
	url, err := b.storage.Upload(ctx, data, contentType)
	if err != nil {
		return err
	}

	b.state.SetState(msg.Chat.ID, StateAwaitingPrompt)
	n := b.state.AddReference(msg.Chat.ID, url, maxReferenceImages)
	b.sendText(msg.Chat.ID, fmt.Sprintf("Фото сохранено (%d/%d). Теперь опишите, что примерить.", n, maxReferenceImages))
	return nil
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User, chatID int64) (*models.User, bool, error) {
	if from == nil {
		return b.svc.Users.Ensure(ctx, chatID, "", "", "")
	}
	return b.svc.Users.Ensure(ctx, from.ID, from.UserName, from.FirstName, from.LastName)
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Error("send text", "chat_id", chatID, "err", err)
	}
}
