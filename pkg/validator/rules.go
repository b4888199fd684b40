package validator

import "github.com/tokmz/relay/pkg/config"

// Rules 负载校验上限
type Rules struct {
	MaxMessageLength int // 消息最大字符数
	MaxJSONSize      int // 结构化负载序列化后的最大字节数
	MaxJSONDepth     int // 最大嵌套深度，标量为 0
	MaxArrayLength   int // 任意层级数组的最大长度
	MaxObjectFields  int // 任意层级对象的最大字段数
	MaxBinarySize    int // 二进制负载最大字节数
	MaxRoomIDLength  int // 房间 ID 最大字符数
}

// DefaultRules 返回默认规则
func DefaultRules() Rules {
	return Rules{
		MaxMessageLength: 1000,
		MaxJSONSize:      64 * 1024,
		MaxJSONDepth:     10,
		MaxArrayLength:   100,
		MaxObjectFields:  50,
		MaxBinarySize:    1024 * 1024,
		MaxRoomIDLength:  50,
	}
}

// FromSettings 从配置构建规则，未设置的项使用默认值
func FromSettings(s config.ValidatorSettings) Rules {
	r := DefaultRules()
	setPositive(&r.MaxMessageLength, s.MaxMessageLength)
	setPositive(&r.MaxJSONSize, s.MaxJSONSize)
	setPositive(&r.MaxJSONDepth, s.MaxJSONDepth)
	setPositive(&r.MaxArrayLength, s.MaxArrayLength)
	setPositive(&r.MaxObjectFields, s.MaxObjectFields)
	setPositive(&r.MaxBinarySize, s.MaxBinarySize)
	setPositive(&r.MaxRoomIDLength, s.MaxRoomIDLength)
	return r
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
