package session

// ConditionSet три независимых флага готовности сессии.
// Флаги монотонны в рамках одной попытки вызова: однажды установленный
// флаг сбрасывается только явным событием повторного согласования
// (hold/resume/renegotiate) или завершением вызова.
type ConditionSet struct {
	// DialogEstablished - диалог протокольного уровня подтвержден
	DialogEstablished bool
	// MediaReady - медиа сессия создана и готова к передаче
	MediaReady bool
	// NegotiationComplete - обмен медиа параметрами завершен
	NegotiationComplete bool
}

// AllMet возвращает true, когда выполнены все три условия готовности.
// Проверка идемпотентна и не зависит от порядка установки флагов.
func (c ConditionSet) AllMet() bool {
	return c.DialogEstablished && c.MediaReady && c.NegotiationComplete
}

// ConditionUpdates набор присваиваний флагов, применяемый после успешного
// выполнения действий перехода. nil означает "не трогать".
type ConditionUpdates struct {
	DialogEstablished   *bool
	MediaReady          *bool
	NegotiationComplete *bool
}

// IsEmpty возвращает true, если обновления не затрагивают ни одного флага
func (u ConditionUpdates) IsEmpty() bool {
	return u.DialogEstablished == nil && u.MediaReady == nil && u.NegotiationComplete == nil
}

// ApplyTo применяет обновления к набору флагов
func (u ConditionUpdates) ApplyTo(c *ConditionSet) {
	if u.DialogEstablished != nil {
		c.DialogEstablished = *u.DialogEstablished
	}
	if u.MediaReady != nil {
		c.MediaReady = *u.MediaReady
	}
	if u.NegotiationComplete != nil {
		c.NegotiationComplete = *u.NegotiationComplete
	}
}
