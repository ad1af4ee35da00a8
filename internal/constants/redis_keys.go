package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "cvx"

	// DocumentModulePrefix 文档模块
	DocumentModulePrefix = "doc"

	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityProcessedSet 已处理集合实体
	EntityProcessedSet = "processed"

	// KeyDocumentLockPrefix 单个文档处理锁 (STRING)
	// 格式: cvx:doc:lock:{kind}:{contentID}
	KeyDocumentLockPrefix = AppPrefix + ":" + DocumentModulePrefix + ":" + EntityLock + ":"

	// KeyProcessedSet 已处理的 content_id 集合 (SET)
	// 格式: cvx:doc:processed:{kind}
	KeyProcessedSet = AppPrefix + ":" + DocumentModulePrefix + ":" + EntityProcessedSet + ":%s"
)
