package locale

import "fmt"

// 模板表：key 与客户端约定，文案本身与语言无关地由参数填充。
// 新增模板先在这里登记，再在翻译器里引用。
var templates = map[string]string{
	"room_message_join":      "%s joined the room",
	"room_message_left":      "%s left the room",
	"room_message_idle":      "%s is idle",
	"room_message_buffering": "%s is buffering at %s",
	"room_message_ready":     "%s is ready to play",
	"room_message_ended":     "%s finished watching",
	"room_message_pause":     "%s paused at %s",
	"room_message_resume":    "%s resumed at %s",
	"room_message_scrub":     "%s jumped to %s",
}

// Translate 渲染模板；未登记的模板ID原样返回，便于排查漏配
func Translate(templateID string, args ...any) string {
	tpl, ok := templates[templateID]
	if !ok {
		return templateID
	}
	return fmt.Sprintf(tpl, args...)
}

// Has 模板是否登记过
func Has(templateID string) bool {
	_, ok := templates[templateID]
	return ok
}
