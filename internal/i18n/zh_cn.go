package i18n

// ZhCNMessages 简体中文消息目录
// ZhCNMessages Simplified Chinese message catalog
var ZhCNMessages = map[string]string{
	"job.timeout":          "等待响应超时。",
	"job.failed":           "生成失败：%s",
	"job.cancelled_marker": "[已取消]",
	"job.busy":             "已有生成任务在运行，请等待或使用 /cancel。",
	"job.submit_failed":    "请求提交失败：%s",

	"auth.required": "请先登录。",
	"auth.expired":  "登录已过期，请重新登录。",

	"status.ready":      "就绪",
	"status.polling":    "等待结果 (%d/%d)",
	"status.streaming":  "生成中...",
	"status.generating": "图片生成中 %d%%",
	"status.done":       "完成",
	"status.cancelling": "正在取消...",

	"session.none":      "未选择会话。使用 /new chat 或 /open <id>。",
	"session.created":   "已创建 %s 会话 %s",
	"session.opened":    "已打开 %s",
	"session.deleted":   "已删除 %s",
	"session.empty":     "暂无会话。",
	"folder.created":    "已创建文件夹 %s",
	"folder.deleted":    "已删除文件夹 %s",
	"project.created":   "项目 %q 已创建，共 %d 步",
	"project.partial":   "项目在第 %d/%d 步后中止：%s",
	"error.dismissed":   "已关闭。",
	"error.indicator":   "错误：%s (/dismiss)",
	"cmd.unknown":       "未知命令：%s",
	"cmd.usage":         "用法：%s",
	"cmd.kind_mismatch": "当前会话是 %s 会话。",

	"project.next_step":  "下一步说明：本项目共 %d 步，下一步是 %q。请给出结构化且具体的回答，便于下一步直接使用。",
	"project.final_step": "最终步骤：这是项目的最后一步。请综合之前所有步骤的结果，给出完整的最终成果。",
	"project.welcome": "欢迎来到 **%[2]s** 项目的 **%[1]s** 步骤！\n\n" +
		"**使用模型：** %[3]s\n**模型特点：** %[4]s\n\n" +
		"**任务概述：**\n%[5]s\n\n" +
		"可以参考下面的推荐提示开始对话，每条提示都针对本步骤设计。",
	"project.model_generic": "通用模型。",

	"project.prompt.chat.1":  "请为 %[1]s 项目的 %[2]s 工作提供专业建议",
	"project.prompt.chat.2":  "如何高效完成 %[2]s？",
	"project.prompt.chat.3":  "请为 %[2]s 制定分步执行计划",
	"project.prompt.image.1": "将 %[1]s 项目的 %[2]s 步骤可视化",
	"project.prompt.image.2": "把 %[2]s 的结果做成图形",
	"project.prompt.image.3": "为 %[1]s 生成高清视觉素材",
}
