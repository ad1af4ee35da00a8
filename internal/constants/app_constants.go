package constants

// EventDocumentProcessed 文档处理完成事件，同时作为默认的 routing key
const EventDocumentProcessed = "document.processed"
