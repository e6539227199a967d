package telegram

import (
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/referral"
	"github.com/digkill/TGFittingBot/internal/service"
	"github.com/digkill/TGFittingBot/internal/tax"
)

const dateLayout = "02.01.2006"

func startText(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "друг"
	}
	return fmt.Sprintf("Привет, %s! Я примерю на вас любую вещь.\n\n"+
		"/generate — новая примерка\n"+
		"/balance — баланс и подписка\n"+
		"/buy — купить кредиты или подписку\n"+
		"/promo КОД — активировать промокод\n"+
		"/referral — пригласить друга", name)
}

func balanceText(v service.Entitlement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Кредиты: %d\n", v.BalanceCredits)
	if v.SubscriptionActive && v.SubscriptionExpiresAt != nil {
		fmt.Fprintf(&b, "Подписка: %s до %s\n", v.SubscriptionTier, v.SubscriptionExpiresAt.Format(dateLayout))
	} else {
		b.WriteString("Подписка: нет\n")
	}
	fmt.Fprintf(&b, "Бесплатных генераций осталось: %d", v.FreemiumRemaining)
	return b.String()
}

func denialText(e *entitlement.InsufficientError) string {
	return fmt.Sprintf("Недостаточно кредитов: на балансе %d, нужно %d. Пополните баланс: /buy", e.Balance, e.Required)
}

func resultCaption(res *service.GenerationResult) string {
	var caption string
	switch res.Charge.Method {
	case entitlement.MethodCredits:
		caption = fmt.Sprintf("Готово! Списано кредитов: %d, осталось: %d.", res.Charge.CreditsSpent, res.Charge.BalanceAfter)
	case entitlement.MethodSubscription:
		caption = "Готово! Генерация по подписке."
	default:
		caption = fmt.Sprintf("Готово! Бесплатных генераций осталось: %d.", res.Charge.FreemiumRemaining)
	}
	if res.Watermark {
		caption += "\nБесплатные изображения содержат водяной знак. Уберите его с подпиской: /buy"
	}
	return caption
}

func formatPrice(minor int64, currency string) string {
	return tax.FromMinorUnits(minor).StringFixed(2) + " " + currency
}

func tariffLabel(t models.Tariff) string {
	price := formatPrice(t.PriceMinorUnits, t.Currency)
	if t.PaymentType == models.PaymentTypeCredits {
		return fmt.Sprintf("%s — %d кредитов, %s", t.Title, t.Credits, price)
	}
	return fmt.Sprintf("%s — %d дн., %s", t.Title, t.DurationDays, price)
}

func tariffKeyboard(tariffs []models.Tariff) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(tariffs))
	for _, t := range tariffs {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(tariffLabel(t), buyCallbackPrefix+t.Code),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func paymentText(p *models.Payment) string {
	return fmt.Sprintf("К оплате %s.\nОплатите по ссылке: %s\nПосле оплаты начисление произойдёт автоматически.",
		formatPrice(p.AmountMinor, p.Currency), p.ConfirmationURL)
}

func referralLink(botUsername, code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%s", botUsername, service.ReferralPayloadPrefix, code)
}

func referralText(botUsername, code string, s referral.Stats) string {
	return fmt.Sprintf("Ваша ссылка: %s\n\nПриглашено: %d\nПервая примерка сделана: %d\nОжидают: %d\nЗаработано кредитов: %d",
		referralLink(botUsername, code), s.Total, s.Awarded, s.Pending, s.CreditsEarned)
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := mediaType(headerCT)
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = mediaType(http.DetectContentType(data))
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errReferenceNotImage
	}
}

func mediaType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	return ct
}
