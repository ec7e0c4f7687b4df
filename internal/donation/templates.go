package donation

import (
	"html/template"
	"io"
)

// indexPageData feeds the landing page template.
type indexPageData struct {
	Title        string
	Config       PublicConfig
	Scripts      []string
	CampaignOver bool
	Closing      string
}

var indexPage = template.Must(template.New("index").Parse(indexPageHTML))

func renderIndexPage(w io.Writer, data indexPageData) error {
	return indexPage.Execute(w, data)
}

const indexPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    {{range .Scripts}}<script src="{{.}}" defer></script>
    {{end}}
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: linear-gradient(135deg, #14b8a6 0%, #0f766e 100%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            padding: 20px;
        }
        .container {
            background: white;
            border-radius: 16px;
            box-shadow: 0 20px 60px rgba(0,0,0,0.3);
            padding: 40px;
            max-width: 460px;
            width: 100%;
            text-align: center;
        }
        h1 { color: #333; margin-bottom: 10px; font-size: 24px; }
        .subtitle { color: #666; margin-bottom: 24px; font-size: 14px; }
        .amounts { display: grid; grid-template-columns: repeat(3, 1fr); gap: 10px; margin-bottom: 16px; }
        .btn {
            display: inline-block;
            padding: 14px 24px;
            border-radius: 8px;
            font-size: 16px;
            font-weight: 600;
            cursor: pointer;
            border: none;
            transition: all 0.3s;
            width: 100%;
            margin-bottom: 12px;
        }
        .btn-primary { background: #0f766e; color: white; }
        .btn-secondary { background: #f5f5f5; color: #333; }
        .btn-amount { background: #f0fdfa; color: #0f766e; margin: 0; }
        input { width: 100%; padding: 12px; border: 1px solid #ddd; border-radius: 8px; margin-bottom: 12px; font-size: 15px; }
        .message { padding: 12px; border-radius: 8px; margin-bottom: 16px; font-size: 14px; display: none; }
        .message.error { background: #fee2e2; color: #991b1b; display: block; }
        .card dl { text-align: left; margin: 16px 0; font-size: 14px; }
        .card dt { color: #666; }
        .card dd { color: #333; margin-bottom: 8px; font-weight: 600; }
        .hidden { display: none; }
    </style>
</head>
<body>
<div class="container">
{{if .CampaignOver}}
    <h1>Thank you!</h1>
    <p class="subtitle">{{.Closing}}</p>
    <p class="subtitle">#Sahara2025</p>
{{else}}
    <h1>{{.Title}}</h1>
    <p class="subtitle">Every contribution counts.</p>
    <div id="message" class="message"></div>

    <section id="stage-amount">
        <div class="amounts">
            {{range .Config.PresetAmounts}}<button class="btn btn-amount" data-amount="{{.}}">{{.}}</button>
            {{end}}
        </div>
        <input id="custom-amount" inputmode="numeric" placeholder="Other amount ({{.Config.Currency}})">
        <button class="btn btn-primary" id="confirm-amount">Continue</button>
    </section>

    <section id="stage-details" class="hidden">
        <input id="donor-name" placeholder="Full name">
        <input id="donor-email" type="email" placeholder="Email (optional)">
        <input id="donor-mobile" inputmode="tel" placeholder="Mobile number">
        <div class="cf-turnstile" data-sitekey="{{.Config.TurnstileSiteKey}}"
             data-callback="onCaptcha" data-expired-callback="onCaptchaExpired" data-error-callback="onCaptchaError"></div>
        <button class="btn btn-primary" id="pay">Donate</button>
        <button class="btn btn-secondary" data-action="/api/checkout/change-amount">Change amount</button>
    </section>

    <section id="stage-result" class="card hidden">
        <h1 id="result-title"></h1>
        <p class="subtitle" id="result-message"></p>
        <dl id="result-fields"></dl>
        <button class="btn btn-primary" id="result-primary"></button>
        <button class="btn btn-secondary" id="result-secondary"></button>
    </section>
{{end}}
</div>
{{if not .CampaignOver}}
<script>
    async function call(path, body) {
        const resp = await fetch(path, {
            method: body === undefined ? 'GET' : 'POST',
            headers: { 'Content-Type': 'application/json' },
            body: body === undefined ? undefined : JSON.stringify(body),
        });
        const data = await resp.json();
        if (data.checkout) { render(data.checkout); }
        else if (data.stage) { render(data); }
        return { ok: resp.ok, data };
    }

    function field(label, value) {
        return '<dt>' + label + '</dt><dd>' + String(value).replace(/[<>&]/g, '') + '</dd>';
    }

    function render(view) {
        const msg = document.getElementById('message');
        msg.textContent = view.message || '';
        msg.className = view.message ? 'message error' : 'message';
        document.getElementById('stage-amount').classList.toggle('hidden', view.stage !== 'amount');
        document.getElementById('stage-details').classList.toggle('hidden', view.stage !== 'details');
        const result = document.getElementById('stage-result');
        result.classList.toggle('hidden', view.stage !== 'success' && view.stage !== 'error');
        const primary = document.getElementById('result-primary');
        const secondary = document.getElementById('result-secondary');
        if (view.success) {
            document.getElementById('result-title').textContent = view.success.title;
            document.getElementById('result-message').textContent = '';
            document.getElementById('result-fields').innerHTML =
                field('Amount', view.success.amount) + field('Reference', view.success.reference) +
                field('Date', view.success.date) + field('Status', view.success.status) + field('Method', view.success.method);
            primary.textContent = view.success.primary_action.label;
            primary.dataset.action = view.success.primary_action.endpoint;
            secondary.classList.add('hidden');
        } else if (view.error) {
            document.getElementById('result-title').textContent = view.error.title;
            document.getElementById('result-message').textContent = view.error.message;
            document.getElementById('result-fields').innerHTML =
                (view.error.payment_id ? field('Payment ID', view.error.payment_id) : '') +
                (view.error.order_id ? field('Order ID', view.error.order_id) : '');
            primary.textContent = view.error.primary_action.label;
            primary.dataset.action = view.error.primary_action.endpoint;
            secondary.textContent = view.error.secondary_action.label;
            secondary.dataset.action = view.error.secondary_action.endpoint;
            secondary.classList.remove('hidden');
        }
    }

    function onCaptcha(token) { call('/api/checkout/captcha', { token }); }
    function onCaptchaExpired() { call('/api/checkout/captcha', { expired: true }); }
    function onCaptchaError() { call('/api/checkout/captcha', { error: true }); }

    async function pay() {
        await call('/api/checkout/details', {
            name: document.getElementById('donor-name').value,
            email: document.getElementById('donor-email').value,
            mobile: document.getElementById('donor-mobile').value,
        });
        const started = await call('/api/checkout/start', {});
        if (!started.ok || !started.data.options) { return; }
        const options = started.data.options;
        options.handler = (r) => call('/api/checkout/gateway/success', r);
        options.modal = { ondismiss: () => call('/api/checkout/gateway/dismiss', { order_id: options.order_id }) };
        const rzp = new Razorpay(options);
        rzp.on('payment.failed', (r) => call('/api/checkout/gateway/failure', {
            code: r.error.code, description: r.error.description,
            payment_id: r.error.metadata && r.error.metadata.payment_id, order_id: options.order_id,
        }));
        rzp.open();
    }

    document.querySelectorAll('[data-amount]').forEach((b) =>
        b.addEventListener('click', () => call('/api/checkout/amount', { amount: Number(b.dataset.amount) })));
    document.getElementById('custom-amount').addEventListener('input', (e) =>
        call('/api/checkout/amount', { custom: e.target.value }));
    document.getElementById('confirm-amount').addEventListener('click', () => call('/api/checkout/amount/confirm', {}));
    document.getElementById('pay').addEventListener('click', pay);
    document.querySelectorAll('[data-action]').forEach((b) =>
        b.addEventListener('click', () => call(b.dataset.action, {})));
    ['result-primary', 'result-secondary'].forEach((id) =>
        document.getElementById(id).addEventListener('click', (e) => call(e.target.dataset.action, {})));

    call('/api/checkout');
</script>
{{end}}
</body>
</html>
`
