package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/tokmz/relay/pkg/errors"
)

// ErrInvalid 校验失败，Message 为面向用户的原因
var ErrInvalid = errors.ErrValidation

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// RuleFunc 单个事件的校验函数，返回（可能经过清洗的）负载
type RuleFunc func(v *Validator, payload map[string]any) (map[string]any, error)

// Validator 按事件类型校验入站负载
type Validator struct {
	rules Rules

	mu     sync.RWMutex
	events map[string]RuleFunc
}

// New 创建校验器并注册内置事件规则
func New(rules Rules) *Validator {
	v := &Validator{
		rules:  rules,
		events: make(map[string]RuleFunc),
	}
	v.Rule("message", messageRule)
	v.Rule("join", roomRule)
	v.Rule("leave", roomRule)
	v.Exempt("button_press", "get_counter", "get_rooms", "ping")
	return v
}

// Rules 返回当前规则
func (v *Validator) Rules() Rules {
	return v.rules
}

// Rule 为事件注册校验函数
func (v *Validator) Rule(event string, fn RuleFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events[event] = fn
}

// Exempt 声明事件免校验
func (v *Validator) Exempt(events ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range events {
		v.events[e] = nil
	}
}

// ValidateEvent 按事件查表校验
// 已注册规则的事件使用对应规则，免校验事件原样通过，其余事件执行结构化检查
func (v *Validator) ValidateEvent(event string, payload map[string]any) (map[string]any, error) {
	v.mu.RLock()
	fn, ok := v.events[event]
	v.mu.RUnlock()

	switch {
	case ok && fn == nil:
		return payload, nil
	case ok:
		return fn(v, payload)
	}
	if err := v.ValidateValue(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ValidateMessage 校验并清洗 message 字段，返回副本
func (v *Validator) ValidateMessage(payload map[string]any) (map[string]any, error) {
	raw, present := payload["message"]
	if !present || raw == nil || raw == "" {
		return nil, invalid("Message content is required")
	}
	msg, ok := raw.(string)
	if !ok {
		return nil, invalid("Message must be a string")
	}
	if utf8.RuneCountInString(msg) > v.rules.MaxMessageLength {
		return nil, invalidf("Message too long (max %d characters)", v.rules.MaxMessageLength)
	}

	clean := Sanitize(msg)
	if clean == "" {
		return nil, invalid("Message is empty after sanitization")
	}

	out := make(map[string]any, len(payload))
	for k, val := range payload {
		out[k] = val
	}
	out["message"] = clean
	return out, nil
}

// ValidateRoomID 校验房间 ID
func (v *Validator) ValidateRoomID(roomID string) error {
	if roomID == "" {
		return invalid("Room ID is required")
	}
	if utf8.RuneCountInString(roomID) > v.rules.MaxRoomIDLength {
		return invalidf("Room ID too long (max %d characters)", v.rules.MaxRoomIDLength)
	}
	if !roomIDPattern.MatchString(roomID) {
		return invalid("Room ID contains invalid characters")
	}
	return nil
}

// ValidateBinary 校验二进制负载
func (v *Validator) ValidateBinary(data []byte) error {
	if len(data) > v.rules.MaxBinarySize {
		return invalidf("Binary payload too large (max %d bytes)", v.rules.MaxBinarySize)
	}
	return nil
}

// ValidateJSON 校验原始 JSON 并返回解析结果
func (v *Validator) ValidateJSON(raw []byte) (any, error) {
	if len(raw) > v.rules.MaxJSONSize {
		return nil, invalidf("JSON payload too large (max %d bytes)", v.rules.MaxJSONSize)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, invalid("Invalid JSON payload")
	}
	if dec.More() {
		return nil, invalid("Invalid JSON payload")
	}

	if err := v.walk(out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateValue 对任意可序列化的值执行结构化检查
func (v *Validator) ValidateValue(value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return invalid("Payload is not JSON serializable")
	}
	_, err = v.ValidateJSON(raw)
	return err
}

// walk 深度优先遍历，level 为当前值之上的容器层数
func (v *Validator) walk(value any, level int) error {
	switch val := value.(type) {
	case map[string]any:
		if level+1 > v.rules.MaxJSONDepth {
			return invalidf("JSON nesting too deep (max %d)", v.rules.MaxJSONDepth)
		}
		if len(val) > v.rules.MaxObjectFields {
			return invalidf("Too many object fields (max %d)", v.rules.MaxObjectFields)
		}
		for _, child := range val {
			if err := v.walk(child, level+1); err != nil {
				return err
			}
		}
	case []any:
		if level+1 > v.rules.MaxJSONDepth {
			return invalidf("JSON nesting too deep (max %d)", v.rules.MaxJSONDepth)
		}
		if len(val) > v.rules.MaxArrayLength {
			return invalidf("Array too long (max %d items)", v.rules.MaxArrayLength)
		}
		for _, child := range val {
			if err := v.walk(child, level+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Depth 计算值的嵌套深度：标量为 0，容器为 1 加最深子节点
func Depth(value any) int {
	var children []any
	switch val := value.(type) {
	case map[string]any:
		for _, c := range val {
			children = append(children, c)
		}
	case []any:
		children = val
	default:
		return 0
	}
	deepest := 0
	for _, c := range children {
		if d := Depth(c); d > deepest {
			deepest = d
		}
	}
	return 1 + deepest
}

func messageRule(v *Validator, payload map[string]any) (map[string]any, error) {
	// 除 message 外的附加字段同样受结构上限约束
	if err := v.ValidateValue(payload); err != nil {
		return nil, err
	}
	out, err := v.ValidateMessage(payload)
	if err != nil {
		return nil, err
	}
	if raw, ok := out["room_id"]; ok && raw != nil {
		if err := roomIDField(v, raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func roomRule(v *Validator, payload map[string]any) (map[string]any, error) {
	if err := roomIDField(v, payload["room_id"]); err != nil {
		return nil, err
	}
	return payload, nil
}

func roomIDField(v *Validator, raw any) error {
	if raw == nil {
		return invalid("Room ID is required")
	}
	id, ok := raw.(string)
	if !ok {
		return invalid("Room ID must be a string")
	}
	return v.ValidateRoomID(id)
}

// Reason 提取校验失败原因，非校验错误返回空串
func Reason(err error) string {
	if e := errors.FromError(err); e != nil && e.Is(ErrInvalid) {
		return e.Message
	}
	return ""
}

func invalid(reason string) error {
	return ErrInvalid.WithMessage(reason)
}

func invalidf(format string, args ...any) error {
	return invalid(fmt.Sprintf(format, args...))
}
