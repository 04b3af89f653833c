package i18n

// EnMessages English message catalog
var EnMessages = map[string]string{
	// Job outcomes written into placeholder messages
	"job.timeout":          "Timed out waiting for a response.",
	"job.failed":           "Generation failed: %s",
	"job.cancelled_marker": "[cancelled]",
	"job.busy":             "A generation is already running. Wait for it or /cancel it.",
	"job.submit_failed":    "Could not submit the request: %s",

	// Auth
	"auth.required": "Please log in to continue.",
	"auth.expired":  "Your session expired. Log in again to keep working.",

	// Status line
	"status.ready":      "Ready",
	"status.polling":    "Waiting for result (%d/%d)",
	"status.streaming":  "Streaming...",
	"status.generating": "Generating image %d%%",
	"status.done":       "Done",
	"status.cancelling": "cancelling...",

	// Sessions and folders
	"session.none":      "No session selected. Use /new chat or /open <id>.",
	"session.created":   "Created %s session %s",
	"session.opened":    "Opened %s",
	"session.deleted":   "Deleted %s",
	"session.empty":     "No sessions yet.",
	"folder.created":    "Created folder %s",
	"folder.deleted":    "Deleted folder %s",
	"project.created":   "Project %q created with %d steps",
	"project.partial":   "Project stopped after %d of %d steps: %s",
	"error.dismissed":   "Dismissed.",
	"error.indicator":   "error: %s (/dismiss)",
	"cmd.unknown":       "Unknown command: %s",
	"cmd.usage":         "Usage: %s",
	"cmd.kind_mismatch": "This session is a %s session.",

	// REPL feedback
	"repl.welcome":            "weave · %s backend · %s generator. Type /help for commands.",
	"session.renamed":         "Renamed to %q",
	"session.model_set":       "Model set to %s",
	"session.model_unknown":   "Unknown %s model %q. Available: %s",
	"session.instruction_set": "Instruction updated.",
	"session.moved":           "Moved to folder %s",
	"folder.empty":            "No folders yet.",
	"job.none":                "Nothing is running.",
	"job.cancelled":           "Cancel requested.",
	"job.started":             "Started %s job %s. /cancel stops it.",
	"auth.signed_in":          "Signed in.",
	"auth.unavailable":        "Login is only used by the http backend.",

	// Planned project text
	"project.next_step": "Next step: this project has %d steps, and the next one is %q. " +
		"Structure your answer so the next step can build on it directly.",
	"project.final_step": "Final step: this is the last step of the project. " +
		"Bring together the results of every previous step into a finished deliverable.",
	"project.welcome": "Welcome to the **%s** step of **%s**.\n\n" +
		"**Model:** %s\n**Strengths:** %s\n\n" +
		"**Task overview:**\n%s\n\n" +
		"Start from one of the recommended prompts below; each is tailored to this step.",
	"project.model_generic": "General-purpose model.",

	"project.prompt.chat.1":  "Give me expert advice on the %[2]s part of the %[1]s project",
	"project.prompt.chat.2":  "What is the most efficient way to carry out %[2]s?",
	"project.prompt.chat.3":  "Write a step-by-step execution plan for %[2]s",
	"project.prompt.image.1": "Visualize the %[2]s step of the %[1]s project",
	"project.prompt.image.2": "Turn the result of %[2]s into a graphic",
	"project.prompt.image.3": "Create a high-resolution visual for %[1]s",

	"repl.help": `Commands:
  /help                      show this help
  /list                      list sessions
  /new chat|image [title]    create a session and switch to it
  /open <id>                 switch session
  /show                      print the current session
  /rename <title>            rename the current session
  /model <id>                change the current session's model
  /instruction <text>        set the current session's instruction
  /delete <id>               delete a session
  /image <prompt> [ratio]    generate an image in an image session
  /stream <prompt>           stream a chat reply incrementally
  /cancel                    cancel the running generation
  /folders                   list folders
  /folder new <name>         create a folder
  /folder rm <id>            delete a folder
  /move <folder-id>          move the current session into a folder
  /project <goal>            plan a multi-step project folder
  /dismiss                   dismiss the current error
  /login <access> [refresh]  store backend credentials
  /quit                      exit
Anything else is sent as a chat prompt.`,
}
