package flow

import "fmt"

// Message copy sent to patients. Kept in one place so the clinic can review
// the whole conversational surface at a glance.
const (
	promptAskDate = "Ótimo! Vou te ajudar a agendar uma consulta. " +
		"Qual data você prefere? (ex: 15/12/2024)"

	promptAskDateReschedule = "Entendi que você quer remarcar. " +
		"Qual nova data você prefere? (ex: 15/12/2024)"

	promptCancelled = "Consulta cancelada com sucesso. " +
		"Se precisar reagendar, é só me avisar!"

	promptFAQ = "Claro! Posso te ajudar com informações sobre: " +
		"• Horários de funcionamento\n" +
		"• Valores das consultas\n" +
		"• Especialidades disponíveis\n" +
		"• Localização da clínica\n\n" +
		"O que você gostaria de saber?"

	promptBookingFailed = "❌ Desculpe, não foi possível confirmar o agendamento. " +
		"O horário pode ter sido ocupado. " +
		"Vamos tentar outro horário?"

	promptRestart = "Sem problemas! Vamos começar novamente. " +
		"Qual data você prefere? (ex: 15/12/2024)"
)

func promptAskTime(date string) string {
	return fmt.Sprintf("Perfeito! Data %s anotada. "+
		"Agora me diga que horário você prefere? "+
		"(ex: 14:30 ou 2:30 da tarde)", date)
}

func promptConfirm(date, timeOfDay string) string {
	return fmt.Sprintf("Vou confirmar seu agendamento:\n\n"+
		"📅 Data: %s\n"+
		"🕐 Horário: %s\n\n"+
		"Está correto? Responda 'sim' para confirmar ou 'não' para alterar.", date, timeOfDay)
}

func promptBooked(date, timeOfDay, eventID string) string {
	return fmt.Sprintf("✅ Agendamento confirmado!\n\n"+
		"📅 Data: %s\n"+
		"🕐 Horário: %s\n"+
		"🆔 ID: %s\n\n"+
		"Você receberá um lembrete 24h antes da consulta. "+
		"Se precisar de algo, é só me avisar!", date, timeOfDay, eventID)
}
