package summarizer

const systemPrompt = `You review transcripts of coding-agent sessions and write a short assessment for the developer who ran them.

Cover, in plain prose:
- What the user was trying to get done
- What the agent actually did, including files or systems it touched
- Whether the goal was reached, partly reached or abandoned
- Where the agent went wrong or needed correction, if anywhere
- Anything the user should follow up on

Keep it under 200 words. Do not quote long code. Do not invent details that are not in the transcript.`

const summaryUserPrompt = `Session: %s
Messages: %d

Transcript:
%s`
