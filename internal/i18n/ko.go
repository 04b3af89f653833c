package i18n

// KoMessages Korean message catalog
var KoMessages = map[string]string{
	"job.timeout":          "응답 대기 시간이 초과되었습니다.",
	"job.failed":           "생성에 실패했습니다: %s",
	"job.cancelled_marker": "[취소됨]",
	"job.busy":             "이미 생성 중입니다. 완료를 기다리거나 /cancel 하세요.",
	"job.submit_failed":    "요청을 보내지 못했습니다: %s",

	"auth.required": "로그인이 필요한 기능입니다.",
	"auth.expired":  "로그인이 만료되었습니다. 다시 로그인해주세요.",

	"status.ready":      "준비됨",
	"status.polling":    "결과 대기 중 (%d/%d)",
	"status.streaming":  "응답 생성 중...",
	"status.generating": "이미지 생성 중 %d%%",
	"status.done":       "완료",
	"status.cancelling": "취소 중...",

	"session.none":      "선택된 세션이 없습니다. /new chat 또는 /open <id> 를 사용하세요.",
	"session.created":   "%s 세션 %s 을(를) 만들었습니다",
	"session.opened":    "%s 을(를) 열었습니다",
	"session.deleted":   "%s 을(를) 삭제했습니다",
	"session.empty":     "세션이 없습니다.",
	"folder.created":    "'%s' 폴더가 생성되었습니다.",
	"folder.deleted":    "폴더가 삭제되었습니다: %s",
	"project.created":   "AI 프로젝트 %q 가 %d단계로 설계되었습니다",
	"project.partial":   "%d/%d 단계까지 생성 후 중단되었습니다: %s",
	"error.dismissed":   "닫았습니다.",
	"error.indicator":   "오류: %s (/dismiss)",
	"cmd.unknown":       "알 수 없는 명령: %s",
	"cmd.usage":         "사용법: %s",
	"cmd.kind_mismatch": "이 세션은 %s 세션입니다.",

	"project.next_step": "다음 단계 안내: 이 프로젝트는 총 %d단계로 구성되어 있으며, 다음 단계는 %q입니다. " +
		"현재 단계의 결과를 다음 단계에서 최대한 활용할 수 있도록 체계적이고 구체적인 답변을 제공해주세요.",
	"project.final_step": "최종 단계: 이 프로젝트의 마지막 단계입니다. " +
		"지금까지의 모든 단계를 종합하여 완성도 높은 최종 결과를 제시해주세요.",
	"project.welcome": "**%[2]s** 프로젝트의 **%[1]s** 단계에 오신 것을 환영합니다!\n\n" +
		"**사용 모델:** %[3]s\n**모델 특징:** %[4]s\n\n" +
		"**작업 개요:**\n%[5]s\n\n" +
		"아래 추천 프롬프트를 참고하여 대화를 시작해보세요. 각 프롬프트는 이 단계의 작업에 특화되어 설계되었습니다.",
	"project.model_generic": "범용 AI 모델입니다.",

	"project.prompt.chat.1":  "%[1]s 프로젝트의 %[2]s 작업에 대한 전문적인 조언을 해주세요",
	"project.prompt.chat.2":  "효율적인 방법으로 %[2]s 작업을 수행하기 위한 전략을 알려주세요",
	"project.prompt.chat.3":  "%[2]s 작업의 단계별 실행 계획을 세워주세요",
	"project.prompt.image.1": "\"%[1]s\" 프로젝트의 %[2]s 작업을 시각적으로 표현해주세요",
	"project.prompt.image.2": "%[2]s 작업의 결과를 그래픽으로 만들어주세요",
	"project.prompt.image.3": "%[1]s 관련 시각 자료를 고화질로 생성해주세요",
}
